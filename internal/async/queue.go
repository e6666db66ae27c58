package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job asks for one document to be advanced to Target.
type Job struct {
	DocumentID  uuid.UUID
	Target      int
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	// Enqueue reports whether the job was accepted. Documents already queued
	// or in flight are not accepted twice.
	Enqueue(ctx context.Context, job Job) (bool, error)
	Shutdown(ctx context.Context)
}
