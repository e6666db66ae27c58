package llm

import (
	"fmt"
	"log/slog"
	"maps"
	"strings"
)

// FieldRules describes the object shape a strategy expects back.
type FieldRules struct {
	// Allowed lists every known key; others are dropped.
	Allowed []string
	// Renames maps model synonyms to canonical keys (e.g. "nif" -> "tax_id"),
	// applied in order: the canonical key, then the earliest synonym present, wins.
	Renames []Rename
	// Numbers are coerced from strings like "1.234,56" to float64.
	Numbers []string
	// Dates are normalized to YYYY-MM-DD when recognizable.
	Dates []string
}

// Rename maps one model synonym to its canonical key.
type Rename struct {
	From string
	To   string
}

// NormalizeFields
// - Renames known synonyms
// - Drops null / empty values
// - Coerces numeric strings for number fields and normalizes dates
// - Removes unknown keys (strict additionalProperties = false friendliness)
//
// It returns the cleaned map and the list of touched keys for logging.
func NormalizeFields(m map[string]any, rules FieldRules, logger *slog.Logger) (map[string]any, []string) {
	if logger == nil {
		logger = slog.Default()
	}
	out := maps.Clone(m)
	if out == nil {
		out = map[string]any{}
	}
	dropped := make([]string, 0, 8)

	// 1) rename synonyms to the schema
	for _, r := range rules.Renames {
		if v, ok := out[r.From]; ok {
			if _, exists := out[r.To]; !exists {
				out[r.To] = v
			}
			delete(out, r.From)
			dropped = append(dropped, r.From+"->"+r.To)
		}
	}

	// 2) drop null / "" and trim strings
	for k, v := range maps.Clone(out) {
		switch t := v.(type) {
		case nil:
			delete(out, k)
			dropped = append(dropped, k+"(null)")
		case string:
			s := strings.TrimSpace(t)
			if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
				delete(out, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				out[k] = s
			}
		}
	}

	// 3) numbers and dates
	for _, k := range rules.Numbers {
		if s, ok := out[k].(string); ok {
			if f, ok := ParseDecimal(s); ok {
				out[k] = f
			} else {
				delete(out, k)
				dropped = append(dropped, k+"(nan)")
			}
		}
	}
	for _, k := range rules.Dates {
		if s, ok := out[k].(string); ok {
			if d, ok := NormalizeDate(s); ok {
				out[k] = d
			}
		}
	}

	// 4) remove unknown keys
	if len(rules.Allowed) > 0 {
		allowed := make(map[string]struct{}, len(rules.Allowed))
		for _, k := range rules.Allowed {
			allowed[k] = struct{}{}
		}
		for k := range maps.Clone(out) {
			if _, ok := allowed[k]; !ok {
				delete(out, k)
				dropped = append(dropped, k+"(unknown)")
			}
		}
	}

	if len(dropped) > 0 {
		logger.Debug("llm.normalize_fields", "touched", fmt.Sprint(dropped))
	}
	return out, dropped
}
