// Package server wires the pipeline components from configuration and hosts
// the long-running daemon around them.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docingest/internal/chunk"
	"github.com/joseph-ayodele/docingest/internal/classify"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/export"
	"github.com/joseph-ayodele/docingest/internal/extract"
	"github.com/joseph-ayodele/docingest/internal/ingest"
	"github.com/joseph-ayodele/docingest/internal/llm"
	"github.com/joseph-ayodele/docingest/internal/llm/openai"
	"github.com/joseph-ayodele/docingest/internal/metadata"
	"github.com/joseph-ayodele/docingest/internal/metrics"
	"github.com/joseph-ayodele/docingest/internal/ocr"
	"github.com/joseph-ayodele/docingest/internal/pipeline"
	"github.com/joseph-ayodele/docingest/internal/prompts"
	"github.com/joseph-ayodele/docingest/internal/repository"
	"github.com/joseph-ayodele/docingest/internal/retry"
	"github.com/joseph-ayodele/docingest/internal/storage"
)

// App holds the wired components shared by the CLI and the daemon.
type App struct {
	Config       *common.Config
	DB           *repository.DB
	Documents    repository.DocumentRepository
	Prompts      *prompts.Registry
	Store        *storage.FSStore
	Registrar    *ingest.FSRegistrar
	Orchestrator *pipeline.Orchestrator
	Export       *export.Service
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
}

// Options overrides collaborators, mostly for tests.
type Options struct {
	// WithPipeline wires the extractor, model and stages; commands that only
	// read the registry leave it false and need no OCR or LLM settings.
	WithPipeline bool
	Model        llm.Completer
	Recognizer   ocr.Recognizer
}

// NewApp validates cfg, connects to the database and builds every component.
// The returned App owns the database; call Close when done.
func NewApp(ctx context.Context, cfg *common.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(opts.WithPipeline && opts.Model == nil); err != nil {
		return nil, err
	}

	db, err := ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	app, err := build(db, cfg, opts, logger)
	if err != nil {
		db.Close(logger)
		return nil, err
	}
	return app, nil
}

func build(db *repository.DB, cfg *common.Config, opts Options, logger *slog.Logger) (*App, error) {
	policy := retryPolicy(cfg.Pipeline)
	store, err := storage.NewFSStore(cfg.Storage.Root, cfg.Storage.Timeout, policy, logger)
	if err != nil {
		return nil, err
	}

	docs := repository.NewDocumentRepository(db, logger, repository.WithStageLease(cfg.Pipeline.StageLease))
	registry := prompts.NewRegistry(repository.NewPromptRepository(db, logger), cfg.Pipeline.PromptCacheTTL, logger)
	app := &App{
		Config:    cfg,
		DB:        db,
		Documents: docs,
		Prompts:   registry,
		Store:     store,
		Registrar: ingest.NewFSRegistrar(docs, store, cfg.Storage.TenantID, cfg.Storage.ScopeID, logger),
		Export: export.NewService(docs,
			repository.NewMetadataRepository(db, logger),
			repository.NewChunkRepository(db, logger),
			logger),
		Metrics: metrics.NewRecorder(),
		Logger:  logger,
	}
	if !opts.WithPipeline {
		return app, nil
	}

	recognizer := opts.Recognizer
	if recognizer == nil {
		recognizer = newRecognizer(cfg.OCR, policy, logger)
	}
	model := opts.Model
	if model == nil {
		model = openai.NewClient(openai.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Temperature:    cfg.LLM.Temperature,
			MaxTokens:      cfg.LLM.MaxTokens,
			Timeout:        cfg.LLM.Timeout,
			RequestsPerSec: cfg.LLM.RequestsPerSec,
			Retry:          policy,
		}, logger)
	}

	extractor := extract.NewExtractor(extract.Config{
		QualityThreshold: cfg.Pipeline.QualityThreshold,
		BatchSize:        cfg.OCR.BatchSize,
		PageLimit:        cfg.OCR.PageLimit,
	}, store, recognizer, logger)

	classifier := classify.NewClassifier(classify.Config{
		MinConfidence: cfg.Pipeline.ClassificationMin,
		MaxRunes:      cfg.Pipeline.ClassifierMaxRunes,
	}, registry, model, logger)

	var counter chunk.TokenCounter
	if cfg.Pipeline.TokenEncoding != "" {
		tc, err := chunk.NewTiktokenCounter(cfg.Pipeline.TokenEncoding)
		if err != nil {
			return nil, fmt.Errorf("token counter: %w", err)
		}
		counter = tc
	}
	chunker, err := chunk.NewChunker(chunk.Config{
		Size:         cfg.Pipeline.ChunkSize,
		Strategy:     cfg.Pipeline.ChunkStrategy,
		Overlap:      cfg.Pipeline.ChunkOverlap,
		CharsPerPage: cfg.Pipeline.CharsPerPage,
	}, counter, logger)
	if err != nil {
		return nil, err
	}

	app.Orchestrator = pipeline.NewOrchestrator(pipeline.Deps{
		Documents:  docs,
		Extractor:  extractor,
		Classifier: classifier,
		Strategies: metadata.NewDefaultFactory(metadata.Deps{Prompts: registry, Model: model, Logger: logger}),
		Chunker:    chunker,
		Metrics:    app.Metrics,
		Logger:     logger,
	})
	return app, nil
}

func retryPolicy(p common.PipelineConfig) retry.Policy {
	policy := retry.Default()
	if p.RetryAttempts > 0 {
		policy.MaxAttempts = p.RetryAttempts
	}
	if p.RetryBaseDelay > 0 {
		policy.BaseDelay = p.RetryBaseDelay
	}
	if p.RetryMaxDelay > 0 {
		policy.MaxDelay = p.RetryMaxDelay
	}
	return policy
}

func newRecognizer(cfg common.OCRConfig, policy retry.Policy, logger *slog.Logger) ocr.Recognizer {
	if cfg.Mode == "http" {
		return ocr.NewHTTPClient(ocr.HTTPConfig{
			BaseURL:  cfg.URL,
			APIKey:   cfg.APIKey,
			Language: cfg.Language,
			Timeout:  cfg.Timeout,
			Retry:    policy,
		}, logger)
	}
	return ocr.NewLocalEngine(ocr.LocalConfig{
		Pdftoppm:      cfg.Pdftoppm,
		Tesseract:     cfg.Tesseract,
		TesseractLang: cfg.Language,
		TessdataDir:   cfg.TessdataDir,
		DPI:           cfg.DPI,
	}, logger)
}

// Close releases the database.
func (a *App) Close() {
	a.DB.Close(a.Logger)
}
