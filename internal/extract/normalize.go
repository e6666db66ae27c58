package extract

import (
	"regexp"
	"strings"
)

// PageDelimiter separates pages in extracted text.
const PageDelimiter = "\n\f\n"

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
)

// Normalize unifies line endings, strips trailing spaces per line, collapses
// more than one blank line into one, and trims the result. Page delimiters
// survive untouched.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	// trim trailing spaces on lines
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	s = strings.Join(lines, "\n")
	// collapse too many blank lines
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
