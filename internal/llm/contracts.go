package llm

import (
	"context"
	"fmt"
)

// Options tunes a single completion request. Zero values use the client defaults.
type Options struct {
	Model       string
	Temperature *float32
	MaxTokens   int
	// JSONMode asks providers that support it to constrain output to a JSON object.
	JSONMode bool
	// Agent names the prompt that produced the request, for logs.
	Agent string
}

// Completer is the language-model service the pipeline depends on: a fully
// substituted prompt in, free-form text (expected to contain JSON) out.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "...(truncated)"
	}
	return fmt.Sprintf("llm provider status %d: %s", e.Status, body)
}

// StatusCode lets the retry policy classify the failure.
func (e *StatusError) StatusCode() int { return e.Status }
