// Package metrics exposes pipeline counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Recorder collects stage timings and outcome counts. A nil *Recorder is a
// valid no-op.
type Recorder struct {
	registry      *prom.Registry
	stageDuration *prom.HistogramVec
	stageOutcomes *prom.CounterVec
	ocrFallbacks  prom.Counter
	salvages      *prom.CounterVec
	documentTypes *prom.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prom.NewRegistry(),
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "docingest",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one pipeline stage run.",
			Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		stageOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docingest",
			Name:      "stage_outcomes_total",
			Help:      "Stage runs by outcome.",
		}, []string{"stage", "outcome"}),
		ocrFallbacks: prom.NewCounter(prom.CounterOpts{
			Namespace: "docingest",
			Name:      "ocr_fallbacks_total",
			Help:      "Extractions whose native text scored below the quality threshold.",
		}),
		salvages: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docingest",
			Name:      "llm_salvage_total",
			Help:      "Model responses recovered by per-field salvage.",
		}, []string{"agent"}),
		documentTypes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docingest",
			Name:      "classified_documents_total",
			Help:      "Classification results by document type.",
		}, []string{"type"}),
	}
	r.registry.MustRegister(
		r.stageDuration, r.stageOutcomes, r.ocrFallbacks, r.salvages, r.documentTypes,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) ObserveStage(stage, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.stageOutcomes.WithLabelValues(stage, outcome).Inc()
	if outcome != OutcomeSkipped {
		r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

func (r *Recorder) OCRFallback() {
	if r == nil {
		return
	}
	r.ocrFallbacks.Inc()
}

func (r *Recorder) Salvaged(agent string) {
	if r == nil {
		return
	}
	r.salvages.WithLabelValues(agent).Inc()
}

func (r *Recorder) Classified(docType string) {
	if r == nil {
		return
	}
	r.documentTypes.WithLabelValues(docType).Inc()
}

// Registry is exposed for tests and custom exporters.
func (r *Recorder) Registry() *prom.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
