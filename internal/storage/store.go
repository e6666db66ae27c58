// Package storage implements the binary object store the extractor reads
// uploaded documents from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/retry"
)

// ObjectStore returns document bytes for a storage reference.
type ObjectStore interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// ErrNotFound is returned (wrapped) when a reference has no object.
var ErrNotFound = fmt.Errorf("object %w", common.ErrNotFound)

// FSStore serves objects from a directory tree; references are slash
// separated paths relative to Root.
type FSStore struct {
	root    string
	timeout time.Duration
	policy  retry.Policy
	logger  *slog.Logger
}

func NewFSStore(root string, timeout time.Duration, policy retry.Policy, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("storage root %q is not a directory", abs)
	}
	return &FSStore{root: abs, timeout: timeout, policy: policy, logger: logger}, nil
}

// Root returns the absolute directory objects are served from.
func (s *FSStore) Root() string { return s.root }

// Resolve maps a reference to an absolute path inside the root.
func (s *FSStore) Resolve(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(ref)))
	if clean == "." || clean == "" {
		return "", fmt.Errorf("%w: empty storage reference", common.ErrInvalidInput)
	}
	if filepath.IsAbs(clean) {
		clean = strings.TrimPrefix(clean, string(filepath.Separator))
	}
	full := filepath.Join(s.root, clean)
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: reference %q escapes storage root", common.ErrInvalidInput, ref)
	}
	return full, nil
}

// RefFor returns the reference for a path already under the root.
func (s *FSStore) RefFor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside storage root %q", common.ErrInvalidInput, path, s.root)
	}
	return filepath.ToSlash(rel), nil
}

func (s *FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	path, err := s.Resolve(ref)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	policy := s.policy
	if s.timeout > 0 {
		policy = policy.WithAttemptTimeout(s.timeout)
	}

	var data []byte
	err = policy.Do(ctx, "storage.get", s.logger, func(ctx context.Context) error {
		b, rerr := readFile(ctx, path)
		if rerr != nil {
			if errors.Is(rerr, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrNotFound, ref)
			}
			return rerr
		}
		data = b
		return nil
	})
	if err != nil {
		s.logger.Error("storage.get.failed", "ref", ref, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	s.logger.Debug("storage.get.ok", "ref", ref, "bytes", len(data), "elapsed_ms", time.Since(start).Milliseconds())
	return data, nil
}

// readFile reads path on a goroutine so a stalled filesystem (NFS, FUSE) still
// honors ctx.
func readFile(ctx context.Context, path string) ([]byte, error) {
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := os.ReadFile(path)
		ch <- result{b, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.b, r.err
	}
}
