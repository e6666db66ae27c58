package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/constants"
)

// Validation statuses for metadata records.
const (
	ValidationValid          = "valid"
	ValidationSchemaMismatch = "schema_mismatch"
	ValidationSalvaged       = "salvaged"
	ValidationBasic          = "basic"
)

// ExtractionMethodBasic marks the generic record written for unsupported types.
const ExtractionMethodBasic = "basic"

// MetadataRecord holds the typed fields extracted for a document.
type MetadataRecord struct {
	ID               uuid.UUID              `json:"id"`
	DocumentID       uuid.UUID              `json:"document_id"`
	DocumentType     constants.DocumentType `json:"document_type"`
	ExtractionMethod string                 `json:"extraction_method"`
	Confidence       float64                `json:"confidence"`
	ValidationStatus string                 `json:"validation_status"`
	Fields           map[string]any         `json:"fields"`
	RawResponse      string                 `json:"raw_response,omitempty"`
	IsCurrent        bool                   `json:"is_current"`
	CreatedAt        time.Time              `json:"created_at"`
}
