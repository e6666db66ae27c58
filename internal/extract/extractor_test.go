package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/ocr"
	"github.com/joseph-ayodele/docingest/internal/storage"
)

const prose = "Los propietarios aprobaron unanimemente las cuentas anuales, el presupuesto ordinario y la renovación del seguro comunitario."

type memStore struct {
	objects map[string][]byte
	gets    int
}

func (m *memStore) Get(_ context.Context, ref string) ([]byte, error) {
	m.gets++
	b, ok := m.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, storage.ErrNotFound)
	}
	return b, nil
}

// pagedRecognizer pretends the document has `pages` scanned pages.
type pagedRecognizer struct {
	mu     sync.Mutex
	pages  int // <0 means endless
	blank  bool
	ranges []ocr.PageRange
	errs   []error // consumed one per call when non-nil
}

func (r *pagedRecognizer) Recognize(_ context.Context, _ []byte, rng ocr.PageRange) ([]ocr.PageText, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranges = append(r.ranges, rng)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []ocr.PageText
	for p := rng.First; p <= rng.Last; p++ {
		if r.pages >= 0 && p > r.pages {
			break
		}
		text := fmt.Sprintf("pagina %d", p)
		if r.blank {
			text = " \n "
		}
		out = append(out, ocr.PageText{PageNumber: p, Text: text})
	}
	return out, nil
}

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func scannedNative(n int) NativeReader {
	return func([]byte) ([]string, error) {
		pages := make([]string, n)
		pages[0] = "Documento escaneado"
		return pages, nil
	}
}

func newTestExtractor(rec ocr.Recognizer, native NativeReader, pageCount int) (*Extractor, *memStore) {
	store := &memStore{objects: map[string][]byte{"doc.pdf": []byte("%PDF-1.4 fake"), "notes.txt": []byte("Hola\r\nmundo  \r\n\r\n\r\n\r\nfin")}}
	e := NewExtractor(DefaultConfig(), store, rec, nil).WithNativeReader(native)
	e.pageCount = func([]byte) (int, error) {
		if pageCount <= 0 {
			return 0, errors.New("unknown")
		}
		return pageCount, nil
	}
	return e, store
}

func TestExtractNative(t *testing.T) {
	rec := &pagedRecognizer{pages: -1}
	native := func([]byte) ([]string, error) {
		pages := make([]string, 50)
		for i := range pages {
			pages[i] = prose
		}
		return pages, nil
	}
	e, _ := newTestExtractor(rec, native, 50)

	res, err := e.Extract(context.Background(), "doc.pdf", constants.MimePDF)
	require.NoError(t, err)
	assert.Equal(t, MethodNative, res.Method)
	assert.Equal(t, 50, res.PageCount)
	assert.Equal(t, 100, res.Quality.Score)
	assert.Empty(t, rec.ranges, "OCR must not run")
	assert.Equal(t, 50, strings.Count(res.Text, "comunitario"))
	assert.Equal(t, 49, strings.Count(res.Text, PageDelimiter))
	assert.Equal(t, len([]rune(res.Text)), res.Length)
}

func TestExtractOCRFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("Should read batches of five until an empty batch", func(t *testing.T) {
		rec := &pagedRecognizer{pages: 12}
		e, _ := newTestExtractor(rec, scannedNative(12), 0)

		res, err := e.Extract(ctx, "doc.pdf", constants.MimePDF)
		require.NoError(t, err)
		assert.Equal(t, 40, res.Quality.Score)
		assert.Equal(t, MethodOCR, res.Method)
		assert.True(t, res.OCRFallback)
		assert.Equal(t, []ocr.PageRange{{First: 1, Last: 5}, {First: 6, Last: 10}, {First: 11, Last: 15}, {First: 16, Last: 20}}, rec.ranges)
		assert.Equal(t, 12, res.PageCount)
		parts := strings.Split(res.Text, PageDelimiter)
		require.Len(t, parts, 12)
		assert.Equal(t, "pagina 1", parts[0])
		assert.Equal(t, "pagina 12", parts[11])
	})

	t.Run("Should stop when the known page count is exhausted", func(t *testing.T) {
		rec := &pagedRecognizer{pages: 12}
		e, _ := newTestExtractor(rec, scannedNative(12), 12)
		_, err := e.Extract(ctx, "doc.pdf", constants.MimePDF)
		require.NoError(t, err)
		assert.Len(t, rec.ranges, 3)
		assert.Equal(t, ocr.PageRange{First: 11, Last: 12}, rec.ranges[2])
	})

	t.Run("Should honor the page limit", func(t *testing.T) {
		rec := &pagedRecognizer{pages: -1}
		e, _ := newTestExtractor(rec, scannedNative(1), 0)
		e.cfg.PageLimit = 12
		res, err := e.Extract(ctx, "doc.pdf", constants.MimePDF)
		require.NoError(t, err)
		assert.Len(t, rec.ranges, 3)
		assert.Equal(t, 12, res.PageCount)
	})

	t.Run("Should record and skip a transient batch failure", func(t *testing.T) {
		rec := &pagedRecognizer{pages: 10, errs: []error{nil, statusErr(503)}}
		e, _ := newTestExtractor(rec, scannedNative(10), 10)
		res, err := e.Extract(ctx, "doc.pdf", constants.MimePDF)
		require.NoError(t, err)
		assert.Len(t, res.Warnings, 1)
		assert.Equal(t, 5, len(strings.Split(res.Text, PageDelimiter)))
	})

	t.Run("Should abort on an auth failure", func(t *testing.T) {
		rec := &pagedRecognizer{pages: 10, errs: []error{statusErr(401)}}
		e, _ := newTestExtractor(rec, scannedNative(10), 10)
		_, err := e.Extract(ctx, "doc.pdf", constants.MimePDF)
		require.ErrorIs(t, err, common.ErrExtraction)
		assert.Len(t, rec.ranges, 1)
		var se statusErr
		assert.ErrorAs(t, err, &se)
	})

	t.Run("Should abort when the ocr tool is missing", func(t *testing.T) {
		rec := &pagedRecognizer{pages: 10, errs: []error{fmt.Errorf("%w: tesseract", ocr.ErrToolMissing)}}
		e, _ := newTestExtractor(rec, scannedNative(10), 10)
		_, err := e.Extract(ctx, "doc.pdf", constants.MimePDF)
		require.ErrorIs(t, err, common.ErrExtraction)
		assert.ErrorIs(t, err, ocr.ErrToolMissing)
		assert.Len(t, rec.ranges, 1)
	})

	t.Run("Should abort after consecutive failures", func(t *testing.T) {
		boom := statusErr(500)
		rec := &pagedRecognizer{pages: -1, errs: []error{boom, boom, boom, boom}}
		e, _ := newTestExtractor(rec, scannedNative(1), 0)
		_, err := e.Extract(ctx, "doc.pdf", constants.MimePDF)
		require.ErrorIs(t, err, common.ErrExtraction)
		assert.Len(t, rec.ranges, 3)
	})

	t.Run("Should fail when zero pages are recovered", func(t *testing.T) {
		rec := &pagedRecognizer{pages: 0}
		e, _ := newTestExtractor(rec, scannedNative(1), 0)
		_, err := e.Extract(ctx, "doc.pdf", constants.MimePDF)
		assert.ErrorIs(t, err, common.ErrExtraction)
	})

	t.Run("Should fail when every recognized page is blank", func(t *testing.T) {
		rec := &pagedRecognizer{pages: 3, blank: true}
		e, _ := newTestExtractor(rec, scannedNative(3), 3)
		_, err := e.Extract(ctx, "doc.pdf", constants.MimePDF)
		require.ErrorIs(t, err, common.ErrExtraction)
		assert.Contains(t, err.Error(), "no text for 3 pages")
	})

	t.Run("Should stop between batches on cancellation", func(t *testing.T) {
		rec := &pagedRecognizer{pages: -1}
		e, _ := newTestExtractor(rec, scannedNative(1), 0)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := e.Extract(cctx, "doc.pdf", constants.MimePDF)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, rec.ranges)
	})
}

func TestExtractFormats(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fail an unsupported mime before reading storage", func(t *testing.T) {
		e, store := newTestExtractor(nil, scannedNative(1), 1)
		_, err := e.Extract(ctx, "doc.pdf", "image/png")
		assert.ErrorIs(t, err, common.ErrUnsupportedFormat)
		assert.Zero(t, store.gets)
	})

	t.Run("Should pass plain text through normalized", func(t *testing.T) {
		e, _ := newTestExtractor(nil, scannedNative(1), 1)
		res, err := e.Extract(ctx, "notes.txt", "text/plain; charset=utf-8")
		require.NoError(t, err)
		assert.Equal(t, MethodPlain, res.Method)
		assert.Equal(t, "Hola\nmundo\n\nfin", res.Text)
	})

	t.Run("Should sniff octet-stream content", func(t *testing.T) {
		e, _ := newTestExtractor(nil, scannedNative(1), 1)
		res, err := e.Extract(ctx, "notes.txt", constants.MimeOctet)
		require.NoError(t, err)
		assert.Equal(t, constants.MimePlainText, res.MimeType)
	})

	t.Run("Should report a missing object as an extraction failure", func(t *testing.T) {
		e, _ := newTestExtractor(nil, scannedNative(1), 1)
		_, err := e.Extract(ctx, "missing.pdf", constants.MimePDF)
		assert.ErrorIs(t, err, common.ErrExtraction)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("Should fail low quality text without OCR", func(t *testing.T) {
		e, _ := newTestExtractor(nil, scannedNative(1), 1)
		e.recognizer = nil
		_, err := e.Extract(ctx, "doc.pdf", constants.MimePDF)
		assert.ErrorIs(t, err, common.ErrExtraction)
	})
}
