package prompts

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

var rePlaceholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Render substitutes {{name}} placeholders in tpl.Body. Every declared
// variable must be present in vars, and every placeholder in the body must be
// resolvable. Values are inserted verbatim and never re-scanned, so document
// text containing braces is safe.
func Render(tpl *entity.PromptTemplate, vars map[string]string) (string, error) {
	if tpl == nil {
		return "", common.NewAppError(common.CodeTemplateResolution, "nil template", nil)
	}

	var missing []string
	for _, v := range tpl.Variables {
		if _, ok := vars[v]; !ok {
			missing = append(missing, v)
		}
	}

	unresolved := map[string]struct{}{}
	out := rePlaceholder.ReplaceAllStringFunc(tpl.Body, func(m string) string {
		name := rePlaceholder.FindStringSubmatch(m)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		unresolved[name] = struct{}{}
		return m
	})

	if len(missing) > 0 || len(unresolved) > 0 {
		left := make([]string, 0, len(unresolved))
		for k := range unresolved {
			left = append(left, k)
		}
		sort.Strings(left)
		msg := fmt.Sprintf("template %q v%d: missing variables [%s], unresolved placeholders [%s]",
			tpl.Name, tpl.Version, strings.Join(missing, ", "), strings.Join(left, ", "))
		return "", common.NewAppError(common.CodeTemplateResolution, msg, nil)
	}
	return out, nil
}

// Placeholders lists the distinct placeholder names in body, in order of first use.
func Placeholders(body string) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, m := range rePlaceholder.FindAllStringSubmatch(body, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}
