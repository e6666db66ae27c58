package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/constants"
)

// Document represents a registry row for data transfer between layers.
type Document struct {
	ID                   uuid.UUID                  `json:"id"`
	TenantID             string                     `json:"tenant_id"`
	ScopeID              string                     `json:"scope_id"`
	StorageRef           string                     `json:"storage_ref"`
	Filename             string                     `json:"filename"`
	SizeBytes            int64                      `json:"size_bytes"`
	ContentHash          string                     `json:"content_hash"`
	MimeType             string                     `json:"mime_type"`
	ExtractionStatus     constants.StageStatus      `json:"extraction_status"`
	ClassificationStatus constants.StageStatus      `json:"classification_status"`
	MetadataStatus       constants.StageStatus      `json:"metadata_status"`
	ChunkingStatus       constants.StageStatus      `json:"chunking_status"`
	ProcessingLevel      int                        `json:"processing_level"`
	ExtractedText        *string                    `json:"extracted_text,omitempty"`
	TextLength           int                        `json:"text_length"`
	PageCount            int                        `json:"page_count"`
	ExtractionMethod     *string                    `json:"extraction_method,omitempty"`
	DocumentType         *constants.DocumentType    `json:"document_type,omitempty"`
	ChunkCount           int                        `json:"chunk_count"`
	StageErrors          map[constants.Stage]string `json:"stage_errors,omitempty"`
	CreatedAt            time.Time                  `json:"created_at"`
	UpdatedAt            time.Time                  `json:"updated_at"`
}

// StageStatus returns the status column for a stage.
func (d *Document) StageStatus(s constants.Stage) constants.StageStatus {
	switch s {
	case constants.StageExtraction:
		return d.ExtractionStatus
	case constants.StageClassification:
		return d.ClassificationStatus
	case constants.StageMetadata:
		return d.MetadataStatus
	case constants.StageChunking:
		return d.ChunkingStatus
	default:
		return ""
	}
}

// SetStageStatus updates the in-memory status column for a stage.
func (d *Document) SetStageStatus(s constants.Stage, st constants.StageStatus) {
	switch s {
	case constants.StageExtraction:
		d.ExtractionStatus = st
	case constants.StageClassification:
		d.ClassificationStatus = st
	case constants.StageMetadata:
		d.MetadataStatus = st
	case constants.StageChunking:
		d.ChunkingStatus = st
	}
}

// FullyProcessed reports whether every stage is completed at the maximum level.
func (d *Document) FullyProcessed() bool {
	if d.ProcessingLevel < constants.MaxLevel {
		return false
	}
	for _, s := range constants.Stages {
		if d.StageStatus(s) != constants.StatusCompleted {
			return false
		}
	}
	return true
}

// Text returns the extracted text or "" when extraction has not run.
func (d *Document) Text() string {
	if d.ExtractedText == nil {
		return ""
	}
	return *d.ExtractedText
}

// Type returns the classified type or Unknown.
func (d *Document) Type() constants.DocumentType {
	if d.DocumentType == nil {
		return constants.Unknown
	}
	return *d.DocumentType
}

// NewDocument is the input for registering an uploaded document.
type NewDocument struct {
	TenantID    string `json:"tenant_id" validate:"required"`
	ScopeID     string `json:"scope_id"`
	StorageRef  string `json:"storage_ref" validate:"required"`
	Filename    string `json:"filename" validate:"required"`
	SizeBytes   int64  `json:"size_bytes" validate:"gte=0"`
	ContentHash string `json:"content_hash" validate:"required,hexadecimal"`
	MimeType    string `json:"mime_type" validate:"required"`
}
