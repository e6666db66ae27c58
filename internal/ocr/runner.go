package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/joseph-ayodele/docingest/internal/common"
)

// ErrToolMissing means pdftoppm or tesseract is not installed. No later batch
// can succeed, so the extractor stops on it.
var ErrToolMissing = errors.New("ocr tool not found")

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	logger := common.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	switch {
	case errors.Is(err, exec.ErrNotFound):
		logger.Error("ocr.exec.missing", "cmd", name, "error", err)
		return nil, nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
	case err != nil:
		logger.Error("ocr.exec.failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"elapsed_ms", elapsed,
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	default:
		logger.Debug("ocr.exec.ok",
			"cmd", name,
			"elapsed_ms", elapsed,
			"stdout_bytes", out.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
