package entity

import (
	"time"

	"github.com/google/uuid"
)

type ChunkType string

const (
	ChunkHeader     ChunkType = "header"
	ChunkContent    ChunkType = "content"
	ChunkTable      ChunkType = "table"
	ChunkList       ChunkType = "list"
	ChunkConclusion ChunkType = "conclusion"
	ChunkSummary    ChunkType = "summary"
)

// Chunk is an ordered fragment of a document's normalized text.
// Offsets are rune offsets, end exclusive.
type Chunk struct {
	ID             uuid.UUID `json:"id"`
	DocumentID     uuid.UUID `json:"document_id"`
	ChunkNumber    int       `json:"chunk_number"`
	ChunkType      ChunkType `json:"chunk_type"`
	Content        string    `json:"content"`
	ContentLength  int       `json:"content_length"`
	StartOffset    int       `json:"start_offset"`
	EndOffset      int       `json:"end_offset"`
	PageStart      int       `json:"page_start"`
	PageEnd        int       `json:"page_end"`
	QualityScore   float64   `json:"quality_score"`
	ChunkingMethod string    `json:"chunking_method"`
	TokenCount     *int      `json:"token_count,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
