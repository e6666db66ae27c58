// Package metadata extracts typed fields from classified documents. A Factory
// maps each document type to a Strategy; types without one get a basic record.
package metadata

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
	"github.com/joseph-ayodele/docingest/internal/llm"
)

// Confidence bounds.
const (
	strictBase       = 0.6
	strictSpan       = 0.35
	mismatchFactor   = 0.6
	salvageCeiling   = 0.4
	salvageFloor     = 0.1
	BasicConfidence  = 0.1
	variableDocument = "document_text"
)

// errNoKnownFields marks a well-formed response that carries none of the
// strategy's fields.
var errNoKnownFields = errors.New("no known fields in response")

// Result is the outcome of one strategy run.
type Result struct {
	Success          bool
	Data             map[string]any
	Confidence       float64
	ValidationStatus string
	// Method is the agent name, or "basic".
	Method string
	Mode   llm.ParseMode
	Raw    string
	Error  error
}

// Record converts a successful result into a metadata record.
func (r Result) Record(documentID uuid.UUID, docType constants.DocumentType) *entity.MetadataRecord {
	return &entity.MetadataRecord{
		DocumentID:       documentID,
		DocumentType:     docType,
		ExtractionMethod: r.Method,
		Confidence:       r.Confidence,
		ValidationStatus: r.ValidationStatus,
		Fields:           r.Data,
		RawResponse:      r.Raw,
	}
}

// Strategy extracts the fields of one document type.
type Strategy interface {
	DocumentType() constants.DocumentType
	AgentName() string
	Fields() []FieldSpec
	Process(ctx context.Context, documentID uuid.UUID, text string) (Result, error)
}

// PromptRenderer resolves an agent prompt and fills its variables.
type PromptRenderer interface {
	ResolveAndRender(ctx context.Context, name string, vars map[string]string) (*entity.PromptTemplate, string, error)
}

// Deps are the collaborators shared by agent strategies.
type Deps struct {
	Prompts PromptRenderer
	Model   llm.Completer
	Logger  *slog.Logger
}

type agentStrategy struct {
	def       Definition
	deps      Deps
	validator *llm.SchemaValidator
	sanitize  llm.FieldRules
	rules     []llm.SalvageRule
	required  []string
}

// NewAgentStrategy builds a Strategy that asks def.Agent for def.Fields.
func NewAgentStrategy(def Definition, deps Deps) Strategy {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &agentStrategy{
		def:       def,
		deps:      deps,
		validator: llm.NewSchemaValidator(Schema(def.Fields)),
		sanitize:  fieldRules(def.Fields),
		rules:     salvageRules(def.Fields),
	}
	for _, f := range def.Fields {
		if f.Required {
			s.required = append(s.required, f.Name)
		}
	}
	return s
}

func (s *agentStrategy) DocumentType() constants.DocumentType { return s.def.Type }
func (s *agentStrategy) AgentName() string                    { return s.def.Agent }
func (s *agentStrategy) Fields() []FieldSpec                  { return s.def.Fields }

func (s *agentStrategy) Process(ctx context.Context, documentID uuid.UUID, text string) (Result, error) {
	start := time.Now()
	logger := common.LoggerFromContext(common.WithDocumentID(ctx, documentID), s.deps.Logger).
		With("agent", s.def.Agent)

	fail := func(err error) (Result, error) {
		logger.Error("metadata.process.error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return Result{Method: s.def.Agent, Error: err}, err
	}

	_, prompt, err := s.deps.Prompts.ResolveAndRender(ctx, s.def.Agent, map[string]string{variableDocument: text})
	if err != nil {
		return fail(err)
	}

	raw, err := s.deps.Model.Complete(ctx, prompt, llm.Options{JSONMode: true, Agent: s.def.Agent})
	if err != nil {
		if common.CodeOf(err) == "" {
			err = common.NewAppError(common.CodeModelUnavailable, "language model unavailable", err)
		}
		return fail(err)
	}

	res := Result{Success: true, Method: s.def.Agent, Raw: raw}

	var data map[string]any
	obj, mode, perr := llm.ExtractObject(raw)
	if perr == nil {
		data, _ = llm.NormalizeFields(obj, s.sanitize, logger)
		if len(data) == 0 {
			perr = errNoKnownFields
		}
	}
	if perr == nil {
		reported, hasReported := obj["confidence"].(float64)
		normalizeItems(data, s.def.Fields)

		res.Data = data
		res.Mode = mode
		res.Confidence = strictBase + strictSpan*s.requiredRatio(data)
		if hasReported && reported >= 0 && reported < res.Confidence {
			res.Confidence = reported
		}
		res.ValidationStatus = entity.ValidationValid
		if verr := s.validator.Validate(data); verr != nil {
			res.ValidationStatus = entity.ValidationSchemaMismatch
			res.Confidence *= mismatchFactor
			logger.Warn("metadata.schema_mismatch", "error", verr)
		}
	} else {
		salvaged := llm.Salvage(raw, s.rules)
		if len(salvaged) == 0 {
			cause := perr
			if errors.Is(perr, llm.ErrMalformedJSON) || errors.Is(perr, errNoKnownFields) {
				cause = errors.Join(perr, errors.New("salvage recovered no fields"))
			}
			return fail(common.NewAppError(common.CodeMetadataParse, "no fields recovered", cause))
		}
		res.Data = salvaged
		res.Mode = llm.ParseSalvage
		res.ValidationStatus = entity.ValidationSalvaged
		res.Confidence = salvageConfidence(len(salvaged), len(s.def.Fields))
		logger.Warn("metadata.salvaged", "parse_error", perr, "fields", len(salvaged))
	}

	logger.Info("metadata.process.ok",
		"fields", len(res.Data),
		"parse_mode", res.Mode,
		"validation", res.ValidationStatus,
		"confidence", res.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *agentStrategy) requiredRatio(data map[string]any) float64 {
	if len(s.required) == 0 {
		return 1
	}
	n := 0
	for _, k := range s.required {
		if _, ok := data[k]; ok {
			n++
		}
	}
	return float64(n) / float64(len(s.required))
}

// salvageConfidence scales with the share of fields recovered and never
// exceeds salvageCeiling.
func salvageConfidence(recovered, total int) float64 {
	if total <= 0 {
		return salvageFloor
	}
	c := salvageFloor + (salvageCeiling-salvageFloor)*float64(recovered)/float64(total)
	if c > salvageCeiling {
		c = salvageCeiling
	}
	return c
}
