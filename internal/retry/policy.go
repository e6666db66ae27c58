// Package retry holds the retry policy shared by every external call the
// pipeline makes (object store reads, OCR batches, language-model requests).
package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// StatusCoder is implemented by provider errors that carry an HTTP-like status.
type StatusCoder interface {
	StatusCode() int
}

// Policy decides how many times an external call is attempted, how long each
// attempt may take and which failures are worth another attempt.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Jitter         time.Duration
	AttemptTimeout time.Duration
	Retryable      func(error) bool
}

// Default is three attempts with exponential backoff starting at 500ms.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      100 * time.Millisecond,
		Retryable:   IsTransient,
	}
}

// WithAttemptTimeout returns a copy of p whose attempts are bounded by d.
func (p Policy) WithAttemptTimeout(d time.Duration) Policy {
	p.AttemptTimeout = d
	return p
}

func (p Policy) backoff() goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := goretry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	if p.Jitter > 0 {
		b = goretry.WithJitter(p.Jitter, b)
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return goretry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts run
// out, or ctx is done. op names the call in logs.
func (p Policy) Do(ctx context.Context, op string, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	attempt := 0
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !retryable(err) {
			logger.Debug("retry.permanent", "op", op, "attempt", attempt, "error", err)
			return err
		}
		logger.Warn("retry.transient", "op", op, "attempt", attempt, "max_attempts", p.MaxAttempts, "error", err)
		return goretry.RetryableError(err)
	})
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(actx)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Permanent marks err as never worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Transient marks err as retryable regardless of its type.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient is the default retry predicate: timeouts, rate limiting, 5xx and
// dropped connections are transient; everything else fails immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm permanentError
	if errors.As(err, &perm) {
		return false
	}
	var tr transientError
	if errors.As(err, &tr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == 429 || code == 408 || code >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// IsFatal reports whether err must abort the surrounding operation outright
// (authentication or authorization failures).
func IsFatal(err error) bool {
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == 401 || code == 403
	}
	return false
}
