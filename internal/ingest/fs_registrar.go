package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
	"github.com/joseph-ayodele/docingest/internal/repository"
)

// RefStore maps local paths to object store references.
type RefStore interface {
	Root() string
	RefFor(path string) (string, error)
}

// FSRegistrar registers files from the local filesystem.
type FSRegistrar struct {
	Documents repository.DocumentRepository
	Store     RefStore
	TenantID  string
	ScopeID   string
	// CopyIn copies files that live outside the store root into
	// <root>/<tenant>/<hash prefix>/ before registering them.
	CopyIn bool
	Logger *slog.Logger
}

func NewFSRegistrar(docs repository.DocumentRepository, store RefStore, tenantID, scopeID string, logger *slog.Logger) *FSRegistrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSRegistrar{
		Documents: docs,
		Store:     store,
		TenantID:  tenantID,
		ScopeID:   scopeID,
		CopyIn:    true,
		Logger:    logger,
	}
}

func (r *FSRegistrar) RegisterPath(ctx context.Context, path string) (RegistrationResult, error) {
	var out RegistrationResult
	start := time.Now()

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	out.SourcePath = abs

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		r.Logger.Warn("ingest.unsupported_extension", "path", abs, "ext", ext)
		return out, common.NewAppError(common.CodeUnsupportedFormat, fmt.Sprintf("unsupported or missing extension %q", ext), nil)
	}

	sum, size, err := hashFile(abs)
	if err != nil {
		r.Logger.Error("ingest.hash.failed", "path", abs, "error", err)
		return out, err
	}
	out.HashHex = sum
	out.SizeBytes = size

	mt, err := mimetype.DetectFile(abs)
	if err != nil {
		return out, fmt.Errorf("sniff mime: %w", err)
	}
	out.MimeType = constants.NormalizeMime(mt.String())
	if !constants.IsSupportedMime(out.MimeType) {
		r.Logger.Warn("ingest.unsupported_mime", "path", abs, "mime", out.MimeType)
		return out, common.NewAppError(common.CodeUnsupportedFormat, fmt.Sprintf("unsupported content type %q", out.MimeType), nil)
	}

	ref, err := r.storageRef(abs, sum)
	if err != nil {
		return out, err
	}
	out.StorageRef = ref

	existing, err := r.Documents.FindByRef(ctx, r.TenantID, ref, sum)
	switch {
	case err == nil:
		out.DocumentID = existing.ID
		out.Existing = true
		r.Logger.Info("ingest.already_registered", "path", abs, "document_id", existing.ID, "ref", ref)
		return out, nil
	case !errors.Is(err, common.ErrNotFound):
		return out, err
	}

	doc, err := r.Documents.Create(ctx, entity.NewDocument{
		TenantID:    r.TenantID,
		ScopeID:     r.ScopeID,
		StorageRef:  ref,
		Filename:    filepath.Base(abs),
		SizeBytes:   size,
		ContentHash: sum,
		MimeType:    out.MimeType,
	})
	if err != nil {
		return out, err
	}
	out.DocumentID = doc.ID
	r.Logger.Info("ingest.registered",
		"path", abs,
		"document_id", doc.ID,
		"ref", ref,
		"mime", out.MimeType,
		"bytes", size,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// storageRef returns the reference for abs, copying it under the store root
// first when it lives elsewhere and CopyIn is set.
func (r *FSRegistrar) storageRef(abs, sum string) (string, error) {
	ref, err := r.Store.RefFor(abs)
	if err == nil {
		return ref, nil
	}
	if !r.CopyIn {
		return "", err
	}
	dst := filepath.Join(r.Store.Root(), r.TenantID, sum[:12], filepath.Base(abs))
	if err := copyFile(abs, dst); err != nil {
		return "", fmt.Errorf("copy into storage: %w", err)
	}
	return r.Store.RefFor(dst)
}

// RegisterDirectory walks root, skips hidden entries if requested,
// and calls RegisterPath for each file. Returns per-file results + aggregate stats.
func (r *FSRegistrar) RegisterDirectory(ctx context.Context, root string, skipHidden bool) ([]RegistrationResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, fmt.Errorf("%w: root path is required", common.ErrInvalidInput)
	}

	var results []RegistrationResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, RegistrationResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		res, err := r.RegisterPath(ctx, path)
		if err != nil {
			res.SourcePath = path
			res.Err = err.Error()
			results = append(results, res)
			stats.Failed++
			return nil
		}
		results = append(results, res)
		stats.Succeeded++
		if res.Existing {
			stats.Existing++
		}
		return nil
	})
	r.Logger.Info("ingest.directory.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"existing", stats.Existing,
		"failed", stats.Failed,
	)
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
