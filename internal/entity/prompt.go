package entity

import (
	"time"

	"github.com/google/uuid"
)

// PromptTemplate is a versioned agent prompt. Exactly one version per name is active.
type PromptTemplate struct {
	ID          uuid.UUID `json:"id" yaml:"-"`
	Name        string    `json:"name" yaml:"name" validate:"required"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Body        string    `json:"body" yaml:"body" validate:"required"`
	Variables   []string  `json:"variables" yaml:"variables"`
	Version     int       `json:"version" yaml:"version"`
	IsActive    bool      `json:"is_active" yaml:"-"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
}
