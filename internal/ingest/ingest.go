// Package ingest registers files as documents in the registry so the pipeline
// can pick them up.
package ingest

import (
	"context"

	"github.com/google/uuid"
)

// RegistrationResult is the per-file registration outcome.
type RegistrationResult struct {
	SourcePath string
	DocumentID uuid.UUID
	StorageRef string
	// Existing is set when the same bytes were already registered under
	// StorageRef; identical content at another path is a separate document.
	Existing  bool
	HashHex   string
	MimeType  string
	SizeBytes int64
	Err       string
}

// DirStats summarizes a directory registration.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Existing  uint32
	Failed    uint32
}

// Registrar is the behavior the CLI and daemon depend on.
type Registrar interface {
	// RegisterPath registers a single file.
	RegisterPath(ctx context.Context, path string) (RegistrationResult, error)
	// RegisterDirectory registers all matching files under root.
	RegisterDirectory(ctx context.Context, root string, skipHidden bool) ([]RegistrationResult, DirStats, error)
}
