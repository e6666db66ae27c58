package metadata

import (
	"github.com/joseph-ayodele/docingest/internal/llm"
)

// FieldType is the JSON shape of one extracted field.
type FieldType string

const (
	FieldString     FieldType = "string"
	FieldNumber     FieldType = "number"
	FieldDate       FieldType = "date"
	FieldStringList FieldType = "string_list"
	FieldObjectList FieldType = "object_list"
)

// FieldSpec declares one field a strategy expects back from its agent.
type FieldSpec struct {
	Name     string
	Type     FieldType
	Required bool
	// Synonyms are keys models use instead of Name; they are renamed on decode
	// and probed during salvage.
	Synonyms []string
	// Item describes the members of an object_list.
	Item []FieldSpec
}

func str(name string, synonyms ...string) FieldSpec {
	return FieldSpec{Name: name, Type: FieldString, Synonyms: synonyms}
}

func num(name string, synonyms ...string) FieldSpec {
	return FieldSpec{Name: name, Type: FieldNumber, Synonyms: synonyms}
}

func date(name string, synonyms ...string) FieldSpec {
	return FieldSpec{Name: name, Type: FieldDate, Synonyms: synonyms}
}

func list(name string, synonyms ...string) FieldSpec {
	return FieldSpec{Name: name, Type: FieldStringList, Synonyms: synonyms}
}

func objects(name string, item ...FieldSpec) FieldSpec {
	return FieldSpec{Name: name, Type: FieldObjectList, Item: item}
}

func required(f FieldSpec) FieldSpec {
	f.Required = true
	return f
}

const isoDatePattern = `^\d{4}-\d{2}-\d{2}$`

// Schema renders fields as a JSON schema object for the strict-phase validator.
// Unknown keys are removed before validation, so the top level is closed.
func Schema(fields []FieldSpec) map[string]any {
	props := make(map[string]any, len(fields))
	var req []any
	for _, f := range fields {
		props[f.Name] = fieldSchema(f)
		if f.Required {
			req = append(req, f.Name)
		}
	}
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(req) > 0 {
		s["required"] = req
	}
	return s
}

func fieldSchema(f FieldSpec) map[string]any {
	switch f.Type {
	case FieldNumber:
		return map[string]any{"type": "number"}
	case FieldDate:
		return map[string]any{"type": "string", "pattern": isoDatePattern}
	case FieldStringList:
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	case FieldObjectList:
		itemProps := make(map[string]any, len(f.Item))
		for _, it := range f.Item {
			itemProps[it.Name] = fieldSchema(it)
		}
		return map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "object", "properties": itemProps},
		}
	default:
		return map[string]any{"type": "string"}
	}
}

func fieldRules(fields []FieldSpec) llm.FieldRules {
	var rules llm.FieldRules
	for _, f := range fields {
		rules.Allowed = append(rules.Allowed, f.Name)
		for _, syn := range f.Synonyms {
			rules.Renames = append(rules.Renames, llm.Rename{From: syn, To: f.Name})
		}
		switch f.Type {
		case FieldNumber:
			rules.Numbers = append(rules.Numbers, f.Name)
		case FieldDate:
			rules.Dates = append(rules.Dates, f.Name)
		}
	}
	return rules
}

func salvageRules(fields []FieldSpec) []llm.SalvageRule {
	var rules []llm.SalvageRule
	for _, f := range fields {
		var kind llm.FieldKind
		switch f.Type {
		case FieldNumber:
			kind = llm.KindNumber
		case FieldDate:
			kind = llm.KindDate
		case FieldStringList:
			kind = llm.KindStringList
		case FieldObjectList:
			continue
		default:
			kind = llm.KindString
		}
		for _, key := range append([]string{f.Name}, f.Synonyms...) {
			r := llm.KeyRule(key, kind)
			r.Field = f.Name
			rules = append(rules, r)
		}
	}
	return rules
}

// normalizeItems coerces numeric members of object lists written as strings.
func normalizeItems(data map[string]any, fields []FieldSpec) {
	for _, f := range fields {
		if f.Type != FieldObjectList {
			continue
		}
		items, ok := data[f.Name].([]any)
		if !ok {
			continue
		}
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			for _, sub := range f.Item {
				if sub.Type != FieldNumber {
					continue
				}
				if s, ok := item[sub.Name].(string); ok {
					if n, ok := llm.ParseDecimal(s); ok {
						item[sub.Name] = n
					} else {
						delete(item, sub.Name)
					}
				}
			}
		}
	}
}
