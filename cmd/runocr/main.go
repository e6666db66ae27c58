package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/server"
)

// runocr runs only the extraction stage for one registered document, so the
// native/OCR decision can be checked without touching the LLM.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <document-id>")
		os.Exit(2)
	}
	id, err := uuid.Parse(os.Args[1])
	if err != nil {
		logger.Error("invalid document id (must be UUID)", "arg", os.Args[1], "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg := common.LoadConfig()
	// Extraction never calls the model; a placeholder key passes validation.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = "unused"
	}
	app, err := server.NewApp(ctx, cfg, server.Options{WithPipeline: true}, logger)
	if err != nil {
		logger.Error("open app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Documents.Reset(ctx, id, constants.StageExtraction); err != nil {
		logger.Error("reset extraction", "document_id", id, "error", err)
		os.Exit(1)
	}

	start := time.Now()
	res, err := app.Orchestrator.Process(ctx, id, int(constants.StageExtraction))
	dur := time.Since(start)
	if err == nil {
		err = res.Err
	}
	if err != nil {
		logger.Error("text extraction failed", "document_id", id, "error", err, "elapsed_ms", dur.Milliseconds())
		os.Exit(1)
	}

	doc, err := app.Documents.Get(ctx, id)
	if err != nil {
		logger.Error("load document", "document_id", id, "error", err)
		os.Exit(1)
	}
	method := ""
	if doc.ExtractionMethod != nil {
		method = *doc.ExtractionMethod
	}
	logger.Info("text extraction OK",
		"document_id", id,
		"method", method,
		"pages", doc.PageCount,
		"chars", doc.TextLength,
		"elapsed_ms", dur.Milliseconds(),
	)
}
