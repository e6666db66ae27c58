package constants

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

type DocumentType string

const (
	Minutes      DocumentType = "minutes"
	Invoice      DocumentType = "invoice"
	Contract     DocumentType = "contract"
	Notice       DocumentType = "notice"
	DeliveryNote DocumentType = "delivery_note"
	Budget       DocumentType = "budget"
	PropertyDeed DocumentType = "property_deed"
	Unknown      DocumentType = "unknown"
)

var allDocumentTypes = []DocumentType{
	Minutes,
	Invoice,
	Contract,
	Notice,
	DeliveryNote,
	Budget,
	PropertyDeed,
	Unknown,
}

func DocumentTypes() []DocumentType {
	out := make([]DocumentType, len(allDocumentTypes))
	copy(out, allDocumentTypes)
	return out
}

func AsStringSlice() []string {
	result := make([]string, len(allDocumentTypes))
	for i, t := range allDocumentTypes {
		result[i] = string(t)
	}
	return result
}

// synonyms maps model labels seen in practice (Spanish and English) to the taxonomy.
var synonyms = map[string]DocumentType{
	"acta":            Minutes,
	"actas":           Minutes,
	"acta de junta":   Minutes,
	"meeting minutes": Minutes,

	"factura": Invoice,
	"bill":    Invoice,
	"receipt": Invoice,

	"contrato":  Contract,
	"agreement": Contract,

	"comunicado":   Notice,
	"aviso":        Notice,
	"anuncio":      Notice,
	"convocatoria": Notice,
	"circular":     Notice,

	"albaran":       DeliveryNote,
	"delivery note": DeliveryNote,
	"delivery-note": DeliveryNote,

	"presupuesto": Budget,
	"quote":       Budget,
	"estimate":    Budget,

	"escritura":              PropertyDeed,
	"escritura de propiedad": PropertyDeed,
	"deed":                   PropertyDeed,
	"property deed":          PropertyDeed,
	"property-deed":          PropertyDeed,

	"desconocido": Unknown,
	"other":       Unknown,
}

// Canonicalize maps a free-form label to the taxonomy. The bool is false when
// the label could not be mapped, in which case Unknown is returned.
func Canonicalize(input string) (DocumentType, bool) {
	normalized := foldLabel(input)
	if normalized == "" {
		return Unknown, false
	}

	if t, ok := synonyms[normalized]; ok {
		return t, true
	}

	underscored := strings.ReplaceAll(strings.ReplaceAll(normalized, " ", "_"), "-", "_")
	for _, t := range allDocumentTypes {
		if underscored == string(t) {
			return t, true
		}
	}
	return Unknown, false
}

// foldLabel lowercases, trims and strips diacritics ("albarán" -> "albaran").
func foldLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
