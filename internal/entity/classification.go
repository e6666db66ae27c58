package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/constants"
)

// Classification methods.
const (
	ClassificationMethodAgent    = "agent"
	ClassificationMethodManual   = "manual"
	ClassificationMethodFallback = "fallback"
)

// ClassificationRecord is one classification attempt for a document.
type ClassificationRecord struct {
	ID           uuid.UUID              `json:"id"`
	DocumentID   uuid.UUID              `json:"document_id"`
	DocumentType constants.DocumentType `json:"document_type"`
	Confidence   float64                `json:"confidence"`
	Method       string                 `json:"method"`
	AgentName    string                 `json:"agent_name,omitempty"`
	RawResponse  string                 `json:"raw_response,omitempty"`
	IsCurrent    bool                   `json:"is_current"`
	CreatedAt    time.Time              `json:"created_at"`
}
