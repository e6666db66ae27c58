package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type LocalConfig struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "spa+eng"
	TessdataDir   string
	DPI           int // rasterization DPI, default 300

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default
}

// LocalEngine rasterizes pages with pdftoppm and reads them with tesseract.
type LocalEngine struct {
	cfg    LocalConfig
	runner Runner
	logger *slog.Logger
}

var _ Recognizer = (*LocalEngine)(nil)

func NewLocalEngine(cfg LocalConfig, logger *slog.Logger) *LocalEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return NewLocalEngineWithRunner(cfg, execRunner{logger: logger}, logger)
}

// NewLocalEngineWithRunner is NewLocalEngine with an injected command runner.
func NewLocalEngineWithRunner(cfg LocalConfig, runner Runner, logger *slog.Logger) *LocalEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "spa+eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &LocalEngine{cfg: cfg, runner: runner, logger: logger}
}

var reBoxNoise = regexp.MustCompile(`(?m)^\s*[_\-]{3,}\s*$`)

func (e *LocalEngine) Recognize(ctx context.Context, pdf []byte, pages PageRange) ([]PageText, error) {
	total, err := PageCount(pdf)
	if err != nil {
		return nil, err
	}
	rng, ok := clamp(pages, total)
	if !ok {
		return []PageText{}, nil
	}

	tmpDir, err := os.MkdirTemp("", "docingest-ocr-*")
	if err != nil {
		return nil, err
	}
	defer func(path string) {
		if err := os.RemoveAll(path); err != nil {
			e.logger.Warn("ocr.tmpdir.cleanup_failed", "path", path, "error", err)
		}
	}(tmpDir)

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, err
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -f <first> -l <last> -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-f", strconv.Itoa(rng.First), "-l", strconv.Itoa(rng.Last),
		"-r", strconv.Itoa(e.cfg.DPI), "-png", in, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm %s: %w: %s", rng, err, truncate(string(errb), 512))
	}

	// pdftoppm names files prefix-<n>.png with n zero-padded to the page count's width.
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)

	out := make([]PageText, 0, len(matches))
	for _, img := range matches {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		num, err := pageNumber(prefix, img)
		if err != nil {
			e.logger.Warn("ocr.local.unexpected_image", "path", img)
			continue
		}
		txt, err := e.tesseract(ctx, img)
		if err != nil {
			out = append(out, PageText{PageNumber: num, Err: err.Error()})
			continue
		}
		out = append(out, PageText{PageNumber: num, Text: txt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out, nil
}

func pageNumber(prefix, path string) (int, error) {
	s := strings.TrimSuffix(strings.TrimPrefix(path, prefix+"-"), ".png")
	return strconv.Atoi(s)
}

func (e *LocalEngine) tesseract(ctx context.Context, path string) (string, error) {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}

	// minor cleanup of obvious line noise
	return reBoxNoise.ReplaceAllString(string(out), ""), nil
}
