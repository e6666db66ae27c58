// Package extract turns a stored binary document into normalized text,
// falling back to batched OCR when the native text layer is unusable.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/ocr"
	"github.com/joseph-ayodele/docingest/internal/retry"
	"github.com/joseph-ayodele/docingest/internal/storage"
)

// Method records how the text was obtained.
type Method string

const (
	MethodNative Method = "native"
	MethodOCR    Method = "ocr"
	MethodPlain  Method = "plain"
)

type Config struct {
	// QualityThreshold is the minimum native score; below it OCR runs.
	QualityThreshold int
	Weights          QualityWeights
	// BatchSize is the number of pages sent per OCR call.
	BatchSize int
	// PageLimit bounds OCR on documents of unknown or huge length.
	PageLimit int
	// MaxBatchFailures aborts OCR after that many consecutive failed batches.
	MaxBatchFailures int
}

func DefaultConfig() Config {
	return Config{
		QualityThreshold: 70,
		Weights:          DefaultQualityWeights(),
		BatchSize:        5,
		PageLimit:        500,
		MaxBatchFailures: 3,
	}
}

// Result is the output of one extraction.
type Result struct {
	Text        string
	PageCount   int
	Method      Method
	Length      int // runes
	MimeType    string
	Quality     QualityReport
	OCRFallback bool
	Warnings    []string
	Duration    time.Duration
}

type Extractor struct {
	cfg        Config
	store      storage.ObjectStore
	recognizer ocr.Recognizer
	native     NativeReader
	pageCount  func([]byte) (int, error)
	logger     *slog.Logger
}

// NewExtractor wires the extractor. recognizer may be nil, in which case a
// low-quality native result fails instead of falling back.
func NewExtractor(cfg Config, store storage.ObjectStore, recognizer ocr.Recognizer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = def.QualityThreshold
	}
	if cfg.Weights == (QualityWeights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = def.PageLimit
	}
	if cfg.MaxBatchFailures <= 0 {
		cfg.MaxBatchFailures = def.MaxBatchFailures
	}
	return &Extractor{
		cfg:        cfg,
		store:      store,
		recognizer: recognizer,
		native:     ReadTextLayer,
		pageCount:  ocr.PageCount,
		logger:     logger,
	}
}

// WithNativeReader replaces the PDF text-layer reader.
func (e *Extractor) WithNativeReader(r NativeReader) *Extractor {
	e.native = r
	return e
}

func extractionError(msg string, cause error) error {
	return common.NewAppError(common.CodeExtraction, msg, cause)
}

// Extract reads ref from the object store and returns its normalized text.
func (e *Extractor) Extract(ctx context.Context, ref, declaredMime string) (Result, error) {
	start := time.Now()
	mime := constants.NormalizeMime(declaredMime)
	logger := common.LoggerFromContext(ctx, e.logger).With("storage_ref", ref)

	sniff := mime == "" || mime == constants.MimeOctet
	if !sniff && !constants.IsSupportedMime(mime) {
		return Result{}, common.NewAppError(common.CodeUnsupportedFormat, fmt.Sprintf("mime type %q", declaredMime), nil)
	}

	data, err := e.store.Get(ctx, ref)
	if err != nil {
		logger.Error("extract.storage_error", "error", err)
		return Result{}, extractionError("read document", err)
	}

	if sniff {
		detected := mimetype.Detect(data)
		mime = constants.NormalizeMime(detected.String())
		logger.Debug("extract.mime_sniffed", "declared", declaredMime, "detected", mime)
		if !constants.IsSupportedMime(mime) {
			return Result{}, common.NewAppError(common.CodeUnsupportedFormat, fmt.Sprintf("detected mime type %q", detected.String()), nil)
		}
	}

	var res Result
	switch mime {
	case constants.MimePlainText:
		res = e.plain(data)
	default:
		res, err = e.pdf(ctx, logger, data)
		if err != nil {
			return Result{}, err
		}
	}
	res.MimeType = mime
	res.Length = utf8.RuneCountInString(res.Text)
	res.Duration = time.Since(start)

	logger.Info("extract.ok",
		"method", res.Method,
		"pages", res.PageCount,
		"length", res.Length,
		"quality", res.Quality.Score,
		"warnings", len(res.Warnings),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) plain(data []byte) Result {
	text := Normalize(strings.ToValidUTF8(string(data), "�"))
	return Result{
		Text:      text,
		PageCount: 1 + strings.Count(text, "\f"),
		Method:    MethodPlain,
		Quality:   Score(text, e.cfg.Weights),
	}
}

func (e *Extractor) pdf(ctx context.Context, logger *slog.Logger, data []byte) (Result, error) {
	var warnings []string
	pages, err := e.native(data)
	if err != nil {
		logger.Warn("extract.native_failed", "error", err)
		warnings = append(warnings, "native: "+err.Error())
	}
	raw := strings.Join(pages, PageDelimiter)
	report := Score(raw, e.cfg.Weights)
	logger.Debug("extract.native_quality", "score", report.Score, "deductions", report.Deductions)

	if report.Score >= e.cfg.QualityThreshold {
		return Result{
			Text:      Normalize(raw),
			PageCount: len(pages),
			Method:    MethodNative,
			Quality:   report,
			Warnings:  warnings,
		}, nil
	}

	if e.recognizer == nil {
		return Result{}, extractionError(fmt.Sprintf("native text quality %d below %d and no OCR configured", report.Score, e.cfg.QualityThreshold), nil)
	}
	logger.Info("extract.ocr_fallback", "score", report.Score, "threshold", e.cfg.QualityThreshold)

	text, pageCount, ocrWarnings, err := e.ocrAll(ctx, logger, data)
	warnings = append(warnings, ocrWarnings...)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:        Normalize(text),
		PageCount:   pageCount,
		Method:      MethodOCR,
		Quality:     report,
		OCRFallback: true,
		Warnings:    warnings,
	}, nil
}

// ocrAll walks the document in batches until a batch returns nothing, the
// known page count or the page limit is reached. Page order is preserved.
func (e *Extractor) ocrAll(ctx context.Context, logger *slog.Logger, data []byte) (string, int, []string, error) {
	var warnings []string
	limit := e.cfg.PageLimit
	total, err := e.pageCount(data)
	if err != nil {
		warnings = append(warnings, "page count: "+err.Error())
		total = 0
	}
	if total > 0 && total < limit {
		limit = total
	}

	collected := map[int]string{}
	failures := 0
	var lastErr error
	for first := 1; first <= limit; first += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return "", 0, warnings, err
		}
		rng := ocr.PageRange{First: first, Last: min(first+e.cfg.BatchSize-1, limit)}
		pages, err := e.recognizer.Recognize(ctx, data, rng)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, warnings, ctx.Err()
			}
			warnings = append(warnings, fmt.Sprintf("ocr batch %s: %v", rng, err))
			if fatalBatchError(err) {
				logger.Error("extract.ocr_fatal", "pages", rng.String(), "error", err)
				return "", 0, warnings, extractionError("ocr aborted", err)
			}
			lastErr = err
			failures++
			logger.Warn("extract.ocr_batch_failed", "pages", rng.String(), "consecutive", failures, "error", err)
			if failures >= e.cfg.MaxBatchFailures {
				return "", 0, warnings, extractionError(fmt.Sprintf("ocr aborted after %d consecutive failed batches", failures), err)
			}
			continue
		}
		failures = 0
		if len(pages) == 0 {
			break
		}
		for _, p := range pages {
			if p.Err != "" {
				warnings = append(warnings, fmt.Sprintf("ocr page %d: %s", p.PageNumber, p.Err))
				continue
			}
			collected[p.PageNumber] = p.Text
		}
	}

	if len(collected) == 0 {
		return "", 0, warnings, extractionError("ocr recovered zero pages", lastErr)
	}

	nums := make([]int, 0, len(collected))
	for n := range collected {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	texts := make([]string, len(nums))
	blank := true
	for i, n := range nums {
		texts[i] = collected[n]
		if strings.TrimSpace(texts[i]) != "" {
			blank = false
		}
	}
	if blank {
		return "", 0, warnings, extractionError(fmt.Sprintf("ocr returned no text for %d pages", len(nums)), lastErr)
	}
	pageCount := total
	if pageCount == 0 {
		pageCount = nums[len(nums)-1]
	}
	return strings.Join(texts, PageDelimiter), pageCount, warnings, nil
}

// fatalBatchError reports errors that no further batch can fix: auth,
// malformed requests and a missing local OCR toolchain.
func fatalBatchError(err error) bool {
	if retry.IsFatal(err) || errors.Is(err, ocr.ErrToolMissing) {
		return true
	}
	var sc retry.StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code >= 400 && code < 500 && code != 408 && code != 429
	}
	return false
}
