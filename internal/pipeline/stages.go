package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/chunk"
	"github.com/joseph-ayodele/docingest/internal/classify"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
	"github.com/joseph-ayodele/docingest/internal/extract"
	"github.com/joseph-ayodele/docingest/internal/metadata"
	"github.com/joseph-ayodele/docingest/internal/metrics"
	"github.com/joseph-ayodele/docingest/internal/repository"
)

// TextExtractor turns a stored document into normalized text.
type TextExtractor interface {
	Extract(ctx context.Context, ref, declaredMime string) (extract.Result, error)
}

// Classifier assigns a document type.
type Classifier interface {
	Classify(ctx context.Context, text string) (classify.Result, error)
}

// StrategyResolver maps a document type to its metadata strategy.
type StrategyResolver interface {
	Resolve(t constants.DocumentType) (metadata.Strategy, error)
}

// Chunker splits text into chunks.
type Chunker interface {
	Chunk(ctx context.Context, text string) (chunk.Output, error)
}

// stage runs one pipeline step for doc and persists its output, updating doc
// in memory so later stages see it.
type stage interface {
	Stage() constants.Stage
	Run(ctx context.Context, doc *entity.Document, logger *slog.Logger) error
}

type extractionStage struct {
	docs      repository.DocumentRepository
	extractor TextExtractor
	metrics   *metrics.Recorder
}

func (s *extractionStage) Stage() constants.Stage { return constants.StageExtraction }

func (s *extractionStage) Run(ctx context.Context, doc *entity.Document, logger *slog.Logger) error {
	res, err := s.extractor.Extract(ctx, doc.StorageRef, doc.MimeType)
	if err != nil {
		return err
	}
	if res.OCRFallback {
		s.metrics.OCRFallback()
	}
	for _, w := range res.Warnings {
		logger.Warn("pipeline.extraction.warning", "warning", w)
	}
	method := string(res.Method)
	if err := s.docs.CompleteExtraction(ctx, doc.ID, repository.ExtractionOutput{
		Text:      res.Text,
		Length:    res.Length,
		PageCount: res.PageCount,
		Method:    method,
	}); err != nil {
		return err
	}
	doc.ExtractedText = &res.Text
	doc.TextLength = res.Length
	doc.PageCount = res.PageCount
	doc.ExtractionMethod = &method
	logger.Info("pipeline.extraction.ok",
		"method", method, "pages", res.PageCount, "length", res.Length,
		"quality", res.Quality.Score, "ocr_fallback", res.OCRFallback,
	)
	return nil
}

type classificationStage struct {
	docs       repository.DocumentRepository
	classifier Classifier
	metrics    *metrics.Recorder
}

func (s *classificationStage) Stage() constants.Stage { return constants.StageClassification }

func (s *classificationStage) Run(ctx context.Context, doc *entity.Document, logger *slog.Logger) error {
	res, err := s.classifier.Classify(ctx, doc.Text())
	if err != nil {
		return err
	}
	if err := s.docs.CompleteClassification(ctx, doc.ID, res.Record(doc.ID)); err != nil {
		return err
	}
	s.metrics.Classified(string(res.Type))
	t := res.Type
	doc.DocumentType = &t
	logger.Info("pipeline.classification.ok", "type", res.Type, "confidence", res.Confidence)
	return nil
}

type metadataStage struct {
	docs       repository.DocumentRepository
	strategies StrategyResolver
	metrics    *metrics.Recorder
}

func (s *metadataStage) Stage() constants.Stage { return constants.StageMetadata }

// Run falls back to the basic record when no strategy handles the type.
func (s *metadataStage) Run(ctx context.Context, doc *entity.Document, logger *slog.Logger) error {
	docType := doc.Type()
	var res metadata.Result

	strategy, err := s.strategies.Resolve(docType)
	switch {
	case errors.Is(err, common.ErrUnsupportedDocumentType):
		logger.Info("pipeline.metadata.basic", "type", docType)
		res = metadata.Basic(metadata.BasicInput{
			Filename:  doc.Filename,
			Text:      doc.Text(),
			PageCount: doc.PageCount,
		})
	case err != nil:
		return err
	default:
		res, err = strategy.Process(ctx, doc.ID, doc.Text())
		if err != nil {
			return err
		}
		if res.ValidationStatus == entity.ValidationSalvaged {
			s.metrics.Salvaged(strategy.AgentName())
		}
	}

	if err := s.docs.CompleteMetadata(ctx, doc.ID, res.Record(doc.ID, docType)); err != nil {
		return err
	}
	logger.Info("pipeline.metadata.ok",
		"method", res.Method, "validation", res.ValidationStatus,
		"confidence", res.Confidence, "fields", len(res.Data),
	)
	return nil
}

type chunkingStage struct {
	docs    repository.DocumentRepository
	chunker Chunker
}

func (s *chunkingStage) Stage() constants.Stage { return constants.StageChunking }

func (s *chunkingStage) Run(ctx context.Context, doc *entity.Document, logger *slog.Logger) error {
	out, err := s.chunker.Chunk(ctx, doc.Text())
	if err != nil {
		return err
	}
	for _, w := range out.Warnings {
		logger.Warn("pipeline.chunking.warning", "warning", w)
	}
	if err := s.docs.CompleteChunking(ctx, doc.ID, out.Chunks); err != nil {
		return err
	}
	doc.ChunkCount = len(out.Chunks)
	logger.Info("pipeline.chunking.ok", "chunks", len(out.Chunks), "avg_quality", out.AverageQuality)
	return nil
}
