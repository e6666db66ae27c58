package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/docingest/internal/extract"
)

// Quality scores a chunk in [0.1, 1.0].
func Quality(content string) float64 {
	score := 0.5
	n := utf8.RuneCountInString(content)
	if n >= 100 && n <= 1200 {
		score += 0.2
	}
	if strings.Count(content, ".")+strings.Count(content, "!")+strings.Count(content, "?") > 1 {
		score += 0.1
	}
	if strings.Contains(content, "\n\n") {
		score += 0.1
	}
	if n > 0 {
		bad := 0
		for _, r := range content {
			if r == utf8.RuneError || !extract.IsStandardRune(r) {
				bad++
			}
		}
		if float64(bad)/float64(n) > 0.10 {
			score -= 0.1
		}
	}
	switch {
	case score < 0.1:
		return 0.1
	case score > 1.0:
		return 1.0
	default:
		return score
	}
}
