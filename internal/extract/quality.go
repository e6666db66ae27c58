package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// QualityWeights are the deductions applied by Score. The defaults are
// empirical; they are configurable so they can be tuned against a corpus.
type QualityWeights struct {
	ShortText       int // length below MinLength
	FewNormalWords  int // normal-word ratio below MinWordRatio
	NonStandard     int // non-standard characters above MaxNonStandard
	NoStructure     int // no basic punctuation or spacing
	RepeatedRun     int // a non-space character repeated RepeatRun times in a row
	MinLength       int
	MinWordRatio    float64
	MaxNonStandard  float64
	RepeatRun       int
	NormalWordRunes int
}

func DefaultQualityWeights() QualityWeights {
	return QualityWeights{
		ShortText:       40,
		FewNormalWords:  30,
		NonStandard:     25,
		NoStructure:     20,
		RepeatedRun:     15,
		MinLength:       100,
		MinWordRatio:    0.6,
		MaxNonStandard:  0.05,
		RepeatRun:       5,
		NormalWordRunes: 3,
	}
}

// Deduction is one triggered quality rule.
type Deduction struct {
	Rule   string `json:"rule"`
	Points int    `json:"points"`
}

// QualityReport is the outcome of Score.
type QualityReport struct {
	Score      int         `json:"score"`
	Deductions []Deduction `json:"deductions,omitempty"`
}

// Score rates how usable natively extracted text is, from 0 to 100.
func Score(text string, w QualityWeights) QualityReport {
	rep := QualityReport{Score: 100}
	deduct := func(rule string, pts int) {
		rep.Score -= pts
		rep.Deductions = append(rep.Deductions, Deduction{Rule: rule, Points: pts})
	}

	length := utf8.RuneCountInString(text)
	if length < w.MinLength {
		deduct("short_text", w.ShortText)
	}
	if normalWordRatio(text, w.NormalWordRunes) < w.MinWordRatio {
		deduct("few_normal_words", w.FewNormalWords)
	}
	if length > 0 && float64(countNonStandard(text))/float64(length) > w.MaxNonStandard {
		deduct("non_standard_chars", w.NonStandard)
	}
	if !hasStructure(text) {
		deduct("no_structure", w.NoStructure)
	}
	if hasRepeatedRun(text, w.RepeatRun) {
		deduct("repeated_chars", w.RepeatedRun)
	}
	if rep.Score < 0 {
		rep.Score = 0
	}
	return rep
}

func normalWordRatio(text string, minRunes int) float64 {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0
	}
	normal := 0
	for _, t := range tokens {
		t = strings.TrimFunc(t, unicode.IsPunct)
		if utf8.RuneCountInString(t) < minRunes {
			continue
		}
		alpha := true
		for _, r := range t {
			if !unicode.IsLetter(r) {
				alpha = false
				break
			}
		}
		if alpha {
			normal++
		}
	}
	return float64(normal) / float64(len(tokens))
}

// standardPunct is the punctuation expected in ordinary Spanish and English prose.
const standardPunct = ".,;:!?¡¿'\"()[]{}-_/\\%€$&@#*+=<>«»“”‘’–—…ºª°|"

// IsStandardRune reports whether r is a letter, digit, whitespace or common punctuation.
func IsStandardRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
		return true
	}
	return strings.ContainsRune(standardPunct, r)
}

func countNonStandard(text string) int {
	n := 0
	for _, r := range text {
		if r == utf8.RuneError || !IsStandardRune(r) {
			n++
		}
	}
	return n
}

func hasStructure(text string) bool {
	return strings.ContainsAny(text, ".,;:") && strings.ContainsAny(text, " \n")
}

func hasRepeatedRun(text string, run int) bool {
	if run <= 1 {
		return false
	}
	var prev rune
	count := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			count = 0
			prev = 0
			continue
		}
		if r == prev {
			count++
			if count >= run {
				return true
			}
			continue
		}
		prev, count = r, 1
	}
	return false
}
