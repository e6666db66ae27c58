// Package classify assigns a document type from the taxonomy using the
// document_classifier agent.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
	"github.com/joseph-ayodele/docingest/internal/llm"
)

// AgentName is the prompt the classifier resolves.
const AgentName = "document_classifier"

// PromptRenderer resolves an agent prompt and fills its variables.
type PromptRenderer interface {
	ResolveAndRender(ctx context.Context, name string, vars map[string]string) (*entity.PromptTemplate, string, error)
}

type Config struct {
	// MinConfidence is the floor below which the result is "unknown".
	MinConfidence float64
	// MaxRunes truncates the text sent to the model; 0 sends everything.
	MaxRunes int
}

func DefaultConfig() Config {
	return Config{MinConfidence: 0.5, MaxRunes: 12000}
}

// Result is one classification outcome.
type Result struct {
	Type       constants.DocumentType
	Confidence float64
	// Label is the raw label the model produced.
	Label      string
	Raw        string
	AgentName  string
	Version    int
	Mode       llm.ParseMode
	BelowFloor bool
	Unmappable bool
}

// Record converts r into a classification record for persistence.
func (r Result) Record(documentID uuid.UUID) *entity.ClassificationRecord {
	return &entity.ClassificationRecord{
		DocumentID:   documentID,
		DocumentType: r.Type,
		Confidence:   r.Confidence,
		Method:       entity.ClassificationMethodAgent,
		AgentName:    r.AgentName,
		RawResponse:  r.Raw,
	}
}

type Classifier struct {
	cfg     Config
	prompts PromptRenderer
	model   llm.Completer
	logger  *slog.Logger
}

func NewClassifier(cfg Config, prompts PromptRenderer, model llm.Completer, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinConfidence < 0 {
		cfg.MinConfidence = 0
	}
	return &Classifier{cfg: cfg, prompts: prompts, model: model, logger: logger}
}

// typeList is the taxonomy offered to the model, in declaration order.
var typeList = func() string {
	types := constants.DocumentTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}()

var salvageRules = []llm.SalvageRule{
	llm.KeyRule("type", llm.KindString),
	llm.KeyRule("document_type", llm.KindString),
	llm.KeyRule("confidence", llm.KindNumber),
}

// Classify returns the document type for text. Failures to reach the model
// or to find any JSON in its answer are classification failures; template
// problems surface as template resolution failures.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	start := time.Now()
	logger := common.LoggerFromContext(ctx, c.logger)

	tpl, prompt, err := c.prompts.ResolveAndRender(ctx, AgentName, map[string]string{
		"document_text":  truncateRunes(text, c.cfg.MaxRunes),
		"document_types": typeList,
	})
	if err != nil {
		return Result{}, err
	}

	raw, err := c.model.Complete(ctx, prompt, llm.Options{JSONMode: true, Agent: AgentName})
	if err != nil {
		logger.Error("classify.llm_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return Result{}, common.NewAppError(common.CodeClassification, "language model unavailable", err)
	}

	fields, mode, err := llm.ExtractObject(raw)
	if err != nil {
		if errors.Is(err, llm.ErrNoJSON) {
			return Result{}, common.NewAppError(common.CodeClassification, "no JSON object in response", err)
		}
		fields = llm.Salvage(raw, salvageRules)
		if len(fields) == 0 {
			return Result{}, common.NewAppError(common.CodeClassification, "unparseable response", err)
		}
		mode = llm.ParseSalvage
	}

	res := Result{Raw: raw, AgentName: tpl.Name, Version: tpl.Version, Mode: mode}
	res.Label = firstString(fields, "type", "document_type", "category", "label")
	res.Confidence = clamp01(confidenceOf(fields["confidence"]))

	docType, ok := constants.Canonicalize(res.Label)
	switch {
	case !ok:
		res.Unmappable = true
		res.Type = constants.Unknown
	case res.Confidence < c.cfg.MinConfidence:
		res.BelowFloor = true
		res.Type = constants.Unknown
	default:
		res.Type = docType
	}

	logger.Info("classify.ok",
		"type", res.Type,
		"label", res.Label,
		"confidence", res.Confidence,
		"parse_mode", res.Mode,
		"below_floor", res.BelowFloor,
		"template_version", res.Version,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// confidenceOf accepts numbers, numeric strings and percentages. Values of 2
// or more are read as a 0-100 scale; anything between 1 and 2 is left for
// clamp01.
func confidenceOf(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		s := strings.TrimSpace(t)
		percent := strings.HasSuffix(s, "%")
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		parsed, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
		if err != nil {
			return 0
		}
		if percent {
			return parsed / 100
		}
		f = parsed
	default:
		return 0
	}
	if f >= 2 && f <= 100 {
		f /= 100
	}
	return f
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// String is used by the CLI status output.
func (r Result) String() string {
	return fmt.Sprintf("%s (%.2f)", r.Type, r.Confidence)
}
