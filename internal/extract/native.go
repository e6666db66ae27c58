package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// NativeReader returns the text layer of each page of a PDF.
type NativeReader func(data []byte) ([]string, error)

// ReadTextLayer extracts per-page plain text with ledongthuc/pdf. Pages that
// fail to decode come back empty; the quality heuristic decides whether the
// overall result is usable.
func ReadTextLayer(data []byte) (pages []string, err error) {
	// The parser panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf text layer: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	n := r.NumPage()
	fonts := make(map[string]*pdf.Font)
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}
