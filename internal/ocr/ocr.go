// Package ocr turns page ranges of a PDF into text, either through a remote
// OCR service or a local poppler + tesseract toolchain.
package ocr

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageRange is an inclusive, 1-based page range.
type PageRange struct {
	First int
	Last  int
}

func (r PageRange) Len() int {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

func (r PageRange) String() string { return fmt.Sprintf("%d-%d", r.First, r.Last) }

// PageText is the recognized text of one page. Err is set when that page
// could not be recognized; the rest of the batch is still usable.
type PageText struct {
	PageNumber int    `json:"page"`
	Text       string `json:"text"`
	Err        string `json:"error,omitempty"`
}

// Recognizer runs OCR over a page range of a PDF. It returns an empty slice
// when the range starts past the end of the document.
type Recognizer interface {
	Recognize(ctx context.Context, pdf []byte, pages PageRange) ([]PageText, error)
}

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount reads the page count of a PDF without rendering it.
func PageCount(pdf []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(pdf), pdfConfig())
	if err != nil {
		return 0, fmt.Errorf("pdf page count: %w", err)
	}
	return n, nil
}

// clamp bounds r to a document of total pages; ok is false when nothing is left.
func clamp(r PageRange, total int) (PageRange, bool) {
	if r.First < 1 {
		r.First = 1
	}
	if total > 0 && r.Last > total {
		r.Last = total
	}
	return r, r.Len() > 0
}

// cutPages returns a new PDF holding only the pages in r.
func cutPages(pdf []byte, r PageRange) ([]byte, error) {
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(pdf), &out, []string{r.String()}, pdfConfig()); err != nil {
		return nil, fmt.Errorf("cut pages %s: %w", r, err)
	}
	return out.Bytes(), nil
}
