package metadata

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/docingest/internal/entity"
)

const maxTitleRunes = 200

// BasicInput is what the generic record is derived from.
type BasicInput struct {
	Filename  string
	Text      string
	PageCount int
}

// Basic builds the generic record written for documents no strategy handles.
func Basic(in BasicInput) Result {
	return Result{
		Success: true,
		Data: map[string]any{
			"title":      Title(in.Text, in.Filename),
			"page_count": in.PageCount,
			"length":     utf8.RuneCountInString(in.Text),
			"language":   DetectLanguage(in.Text),
		},
		Confidence:       BasicConfidence,
		ValidationStatus: entity.ValidationBasic,
		Method:           entity.ExtractionMethodBasic,
	}
}

// Title is the first non-empty line of text, or the filename without
// extension when the text has none.
func Title(text, filename string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.ContainsFunc(line, unicode.IsLetter) {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleRunes {
			line = string([]rune(line)[:maxTitleRunes])
		}
		return line
	}
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var (
	spanishWords = wordSet("de la que el en los del se las por un para con una su al lo como más pero sus le ya o este sí porque esta entre cuando muy sin sobre también junta acuerdo factura")
	englishWords = wordSet("the of and to in is that for it as was with be by on not he this are or his from at which but have an they you were her all she there would their we him been has")
)

func wordSet(s string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		m[w] = struct{}{}
	}
	return m
}

// DetectLanguage returns "es", "en" or "unknown" from stopword frequency.
func DetectLanguage(text string) string {
	var es, en int
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) }) {
		if _, ok := spanishWords[w]; ok {
			es++
		}
		if _, ok := englishWords[w]; ok {
			en++
		}
	}
	switch {
	case es+en < 3:
		return "unknown"
	case es > en:
		return "es"
	case en > es:
		return "en"
	default:
		return "unknown"
	}
}
