package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseMode records how a model response was decoded.
type ParseMode string

const (
	ParseStrict   ParseMode = "strict"   // the whole response is a JSON object
	ParseFenced   ParseMode = "fenced"   // object inside a ```json fence
	ParseEmbedded ParseMode = "embedded" // first balanced object in free text
	ParseSalvage  ParseMode = "salvage"  // per-field regex recovery
)

var (
	// ErrNoJSON means the response contains no '{' at all.
	ErrNoJSON = errors.New("response contains no JSON object")
	// ErrMalformedJSON means braces were found but no span decoded as an object.
	ErrMalformedJSON = errors.New("response JSON object is malformed")
)

// maxCandidates bounds the balanced-span scan on adversarial input.
const maxCandidates = 64

var reFence = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// ExtractObject is the strict phase of response parsing. It tries, in order,
// the trimmed response, fenced blocks, and balanced {...} spans embedded in
// prose, returning the first that decodes as a JSON object.
func ExtractObject(text string) (map[string]any, ParseMode, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(trimmed, "{") {
		return nil, "", ErrNoJSON
	}

	if strings.HasPrefix(trimmed, "{") {
		if m, ok := decodeObject(trimmed); ok {
			return m, ParseStrict, nil
		}
	}

	for _, match := range reFence.FindAllStringSubmatch(trimmed, maxCandidates) {
		if m, ok := decodeObject(match[1]); ok {
			return m, ParseFenced, nil
		}
	}

	tried := 0
	for i := 0; i < len(trimmed) && tried < maxCandidates; i++ {
		if trimmed[i] != '{' {
			continue
		}
		end := matchBrace(trimmed, i)
		if end < 0 {
			continue
		}
		tried++
		if m, ok := decodeObject(trimmed[i : end+1]); ok {
			return m, ParseEmbedded, nil
		}
	}
	return nil, "", ErrMalformedJSON
}

func decodeObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// matchBrace returns the index of the '}' closing the '{' at start, honoring
// JSON string literals, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// FieldKind selects how a salvaged capture is converted.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindDate
	KindStringList
)

// SalvageRule recovers one field from raw response text. Pattern's first
// capture group is the value.
type SalvageRule struct {
	Field   string
	Kind    FieldKind
	Pattern *regexp.Regexp
}

// KeyRule builds the common rule: a `"field": value` pair in half-broken JSON
// or `field: value` in prose.
func KeyRule(field string, kind FieldKind) SalvageRule {
	key := `(?i)"?\b` + regexp.QuoteMeta(field) + `\b"?\s*[:=]\s*`
	var pat string
	switch kind {
	case KindNumber:
		pat = key + `"?(-?\d[\d.,]*)`
	case KindDate:
		pat = key + `"?(\d{4}-\d{2}-\d{2}|\d{1,2}[/.-]\d{1,2}[/.-]\d{4})`
	case KindStringList:
		pat = key + `\[([^\]]*)\]`
	default:
		pat = key + `"([^"\n]{1,500})"`
	}
	return SalvageRule{Field: field, Kind: kind, Pattern: regexp.MustCompile(pat)}
}

// Salvage applies rules to the raw response and returns the recovered fields.
// Rules for a field already recovered are skipped, so earlier rules win.
func Salvage(text string, rules []SalvageRule) map[string]any {
	out := make(map[string]any)
	for _, r := range rules {
		if _, done := out[r.Field]; done || r.Pattern == nil {
			continue
		}
		m := r.Pattern.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		raw := strings.TrimSpace(m[1])
		if raw == "" {
			continue
		}
		switch r.Kind {
		case KindNumber:
			if f, ok := ParseDecimal(raw); ok {
				out[r.Field] = f
			}
		case KindDate:
			if d, ok := NormalizeDate(raw); ok {
				out[r.Field] = d
			}
		case KindStringList:
			if items := splitList(raw); len(items) > 0 {
				out[r.Field] = items
			}
		default:
			out[r.Field] = raw
		}
	}
	return out
}

func splitList(raw string) []any {
	var items []any
	for _, p := range strings.Split(raw, ",") {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		if p != "" {
			items = append(items, p)
		}
	}
	return items
}

var reDMY = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})$`)

// NormalizeDate accepts ISO dates and day-first dates (dd/mm/yyyy) and returns YYYY-MM-DD.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 10 && s[4] == '-' && s[7] == '-' {
		return s, true
	}
	m := reDMY.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return "", false
	}
	return fmt.Sprintf("%s-%02d-%02d", m[3], month, day), true
}

// ParseDecimal parses amounts written with either decimal convention
// ("1.234,56", "1,234.56", "1234,5", "12").
func ParseDecimal(s string) (float64, bool) {
	s = strings.TrimRight(strings.TrimSpace(strings.Trim(s, "€$ ")), ".,")
	if s == "" {
		return 0, false
	}
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
