// Package pipeline advances documents through extraction, classification,
// metadata and chunking, persisting each stage's status and output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
	"github.com/joseph-ayodele/docingest/internal/metrics"
	"github.com/joseph-ayodele/docingest/internal/repository"
)

// Deps wires the orchestrator. Metrics may be nil.
type Deps struct {
	Documents  repository.DocumentRepository
	Extractor  TextExtractor
	Classifier Classifier
	Strategies StrategyResolver
	Chunker    Chunker
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// Result summarizes one Process call.
type Result struct {
	DocumentID uuid.UUID
	Level      int
	Ran        []constants.Stage
	Skipped    []constants.Stage
	// Failed is the stage that halted the run, 0 when none did.
	Failed constants.Stage
	Err    error
}

type Orchestrator struct {
	docs    repository.DocumentRepository
	stages  []stage
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Orchestrator{
		docs: d.Documents,
		stages: []stage{
			&extractionStage{docs: d.Documents, extractor: d.Extractor, metrics: d.Metrics},
			&classificationStage{docs: d.Documents, classifier: d.Classifier, metrics: d.Metrics},
			&metadataStage{docs: d.Documents, strategies: d.Strategies, metrics: d.Metrics},
			&chunkingStage{docs: d.Documents, chunker: d.Chunker},
		},
		metrics: d.Metrics,
		logger:  d.Logger,
	}
}

// Process advances the document through every stage up to target that is not
// completed yet. A failed stage halts the run and is recorded on the document;
// a stage that failed earlier blocks the run with ErrStageFailed until Reset.
// Cancellation is checked between stages. A document already completed up to
// target is left untouched.
func (o *Orchestrator) Process(ctx context.Context, id uuid.UUID, target int) (Result, error) {
	res := Result{DocumentID: id}
	if target < 1 || target > constants.MaxLevel {
		res.Err = fmt.Errorf("%w: target level %d", common.ErrInvalidInput, target)
		return res, res.Err
	}

	ctx = common.WithDocumentID(ctx, id)
	logger := common.LoggerFromContext(ctx, o.logger)
	start := time.Now()

	doc, err := o.docs.Get(ctx, id)
	if err != nil {
		res.Err = err
		return res, err
	}
	res.Level = doc.ProcessingLevel

	for _, st := range o.stages {
		s := st.Stage()
		if int(s) > target {
			break
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res, err
		}

		switch doc.StageStatus(s) {
		case constants.StatusCompleted:
			res.Skipped = append(res.Skipped, s)
			o.metrics.ObserveStage(s.String(), metrics.OutcomeSkipped, 0)
			continue
		case constants.StatusFailed:
			res.Failed = s
			res.Err = common.NewAppError(common.CodeStageFailed, fmt.Sprintf("%s stage failed; reset required", s), nil)
			logger.Warn("pipeline.stage.blocked", "stage", s.String())
			return res, res.Err
		}

		if err := o.runStage(ctx, logger, st, doc); err != nil {
			res.Failed = s
			res.Err = err
			return res, err
		}
		res.Ran = append(res.Ran, s)
		if int(s) > res.Level {
			res.Level = int(s)
		}
	}

	logger.Info("pipeline.process.done",
		"level", res.Level, "ran", len(res.Ran), "skipped", len(res.Skipped),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (o *Orchestrator) runStage(ctx context.Context, logger *slog.Logger, st stage, doc *entity.Document) error {
	s := st.Stage()
	logger = logger.With("stage", s.String())
	start := time.Now()

	if err := o.docs.BeginStage(ctx, doc.ID, s); err != nil {
		return err
	}
	doc.SetStageStatus(s, constants.StatusProcessing)
	logger.Info("pipeline.stage.start")

	err := st.Run(ctx, doc, logger)
	elapsed := time.Since(start)
	if err == nil {
		doc.SetStageStatus(s, constants.StatusCompleted)
		if int(s) > doc.ProcessingLevel {
			doc.ProcessingLevel = int(s)
		}
		o.metrics.ObserveStage(s.String(), metrics.OutcomeCompleted, elapsed)
		logger.Info("pipeline.stage.ok", "elapsed_ms", elapsed.Milliseconds())
		return nil
	}

	// An interrupted run stays in processing and resumes on the next call.
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		logger.Warn("pipeline.stage.interrupted", "error", err, "elapsed_ms", elapsed.Milliseconds())
		return err
	}

	o.metrics.ObserveStage(s.String(), metrics.OutcomeFailed, elapsed)
	logger.Error("pipeline.stage.error", "error", err, "code", common.CodeOf(err), "elapsed_ms", elapsed.Milliseconds())
	if ferr := o.docs.FailStage(context.WithoutCancel(ctx), doc.ID, s, err.Error()); ferr != nil {
		logger.Error("pipeline.stage.record_failure", "error", ferr)
		return errors.Join(err, ferr)
	}
	doc.SetStageStatus(s, constants.StatusFailed)
	return err
}

// Reset returns stages from `from` onward to pending so they can run again.
func (o *Orchestrator) Reset(ctx context.Context, id uuid.UUID, from constants.Stage) error {
	return o.docs.Reset(ctx, id, from)
}

// Status returns the document's current registry row.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	return o.docs.Get(ctx, id)
}

// ProcessMany runs Process for ids with at most limit documents in flight.
// A repeated id is processed once. Per-document failures are reported in the
// results, one per distinct id in first-seen order; the returned error is only
// set when ctx ends first.
func (o *Orchestrator) ProcessMany(ctx context.Context, ids []uuid.UUID, target, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 1
	}
	ids = distinct(ids)
	results := make([]Result, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i], _ = o.Process(gctx, id, target)
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range ids {
		if results[i].DocumentID == uuid.Nil {
			results[i] = Result{DocumentID: id, Err: ctx.Err()}
		}
	}
	return results, ctx.Err()
}

func distinct(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
