package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
	"github.com/joseph-ayodele/docingest/internal/repository"
)

const (
	SheetDocuments = "Documents"
	SheetMetadata  = "Metadata"
	SheetChunks    = "Chunks"

	previewRunes = 140
)

// Options narrows an export.
type Options struct {
	// TenantID keeps only one tenant's documents when set.
	TenantID string
	// Limit caps the number of documents; 0 exports all.
	Limit uint64
	// IncludeChunks adds the chunks sheet.
	IncludeChunks bool
}

// Service is a small façade over repositories that produces XLSX bytes for exports.
type Service struct {
	docs     repository.DocumentRepository
	metadata repository.MetadataRepository
	chunks   repository.ChunkRepository
	logger   *slog.Logger
}

func NewService(docs repository.DocumentRepository, metadata repository.MetadataRepository, chunks repository.ChunkRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, metadata: metadata, chunks: chunks, logger: logger}
}

// ExportXLSX returns an XLSX workbook (as bytes) with one row per document,
// its current metadata record, and optionally its chunks.
func (s *Service) ExportXLSX(ctx context.Context, opts Options) ([]byte, error) {
	start := time.Now()

	all, err := s.docs.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	docs := make([]*entity.Document, 0, len(all))
	for _, d := range all {
		if opts.TenantID != "" && d.TenantID != opts.TenantID {
			continue
		}
		docs = append(docs, d)
		if opts.Limit > 0 && uint64(len(docs)) >= opts.Limit {
			break
		}
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.close.failed", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", SheetDocuments); err != nil {
		return nil, err
	}
	sheets := []string{SheetMetadata}
	if opts.IncludeChunks {
		sheets = append(sheets, SheetChunks)
	}
	for _, name := range sheets {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	writeHeader(f, SheetDocuments, []string{
		"Document ID", "Tenant", "Scope", "Filename", "Mime", "Size (bytes)", "Document Type",
		"Level", "Extraction", "Classification", "Metadata", "Chunking",
		"Method", "Text Length", "Pages", "Chunks", "Errors", "Created",
	})
	writeHeader(f, SheetMetadata, []string{
		"Document ID", "Document Type", "Method", "Confidence", "Validation", "Fields",
	})
	if opts.IncludeChunks {
		writeHeader(f, SheetChunks, []string{
			"Document ID", "Number", "Type", "Start", "End", "Pages", "Quality", "Tokens", "Preview",
		})
	}

	metaRow, chunkRow, chunkTotal := 2, 2, 0
	for i, d := range docs {
		row := i + 2
		method := ""
		if d.ExtractionMethod != nil {
			method = *d.ExtractionMethod
		}
		writeRow(f, SheetDocuments, row, []any{
			d.ID.String(), d.TenantID, d.ScopeID, d.Filename, d.MimeType, d.SizeBytes, string(d.Type()),
			d.ProcessingLevel,
			string(d.ExtractionStatus), string(d.ClassificationStatus), string(d.MetadataStatus), string(d.ChunkingStatus),
			method, d.TextLength, d.PageCount, d.ChunkCount, stageErrors(d.StageErrors),
			d.CreatedAt.Format(time.RFC3339),
		})

		if d.MetadataStatus == constants.StatusCompleted {
			rec, err := s.metadata.Current(ctx, d.ID)
			switch {
			case err == nil:
				fields, _ := json.Marshal(rec.Fields)
				writeRow(f, SheetMetadata, metaRow, []any{
					d.ID.String(), string(rec.DocumentType), rec.ExtractionMethod, rec.Confidence, rec.ValidationStatus, string(fields),
				})
				metaRow++
			case !errors.Is(err, common.ErrNotFound):
				return nil, fmt.Errorf("query metadata: %w", err)
			}
		}

		if opts.IncludeChunks && d.ChunkCount > 0 {
			chunks, err := s.chunks.List(ctx, d.ID)
			if err != nil {
				return nil, fmt.Errorf("query chunks: %w", err)
			}
			for _, c := range chunks {
				tokens := ""
				if c.TokenCount != nil {
					tokens = fmt.Sprint(*c.TokenCount)
				}
				writeRow(f, SheetChunks, chunkRow, []any{
					d.ID.String(), c.ChunkNumber, string(c.ChunkType), c.StartOffset, c.EndOffset,
					fmt.Sprintf("%d-%d", c.PageStart, c.PageEnd), c.QualityScore, tokens, truncate(c.Content, previewRunes),
				})
				chunkRow++
			}
			chunkTotal += len(chunks)
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(SheetDocuments, "A", "A", 38) // id
	_ = f.SetColWidth(SheetDocuments, "D", "D", 32) // filename
	_ = f.SetColWidth(SheetDocuments, "Q", "Q", 48) // errors
	_ = f.SetColWidth(SheetMetadata, "A", "A", 38)
	_ = f.SetColWidth(SheetMetadata, "F", "F", 80) // fields
	if opts.IncludeChunks {
		_ = f.SetColWidth(SheetChunks, "A", "A", 38)
		_ = f.SetColWidth(SheetChunks, "I", "I", 80) // preview
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"tenant_id", opts.TenantID,
		"documents", len(docs),
		"chunks", chunkTotal,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

// stageErrors flattens stage errors in pipeline order: "stage: detail; ...".
func stageErrors(errs map[constants.Stage]string) string {
	if len(errs) == 0 {
		return ""
	}
	stages := make([]constants.Stage, 0, len(errs))
	for s := range errs {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })
	out := ""
	for i, s := range stages {
		if i > 0 {
			out += "; "
		}
		out += s.String() + ": " + errs[s]
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
