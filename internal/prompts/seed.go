package prompts

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type seedFile struct {
	Templates []entity.PromptTemplate `yaml:"templates"`
}

// Defaults returns the templates shipped with the binary.
func Defaults() ([]entity.PromptTemplate, error) {
	return ParseTemplates(defaultsYAML)
}

// ParseTemplates decodes a seed file.
func ParseTemplates(data []byte) ([]entity.PromptTemplate, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode prompt seed: %w", err)
	}
	for i := range f.Templates {
		t := &f.Templates[i]
		t.Name = strings.TrimSpace(t.Name)
		if err := common.ValidateStruct(t); err != nil {
			return nil, fmt.Errorf("template #%d: %w", i, err)
		}
	}
	return f.Templates, nil
}

// SeedResult counts what Seed did.
type SeedResult struct {
	Published int
	Unchanged int
}

// Seed publishes every template whose body differs from the active version
// (or that has none). With force, every template gets a new version.
func (r *Registry) Seed(ctx context.Context, templates []entity.PromptTemplate, force bool) (SeedResult, error) {
	var res SeedResult
	for i := range templates {
		t := templates[i]
		if !force {
			cur, err := r.store.GetActive(ctx, t.Name)
			switch {
			case err == nil && cur.Body == t.Body:
				res.Unchanged++
				continue
			case err != nil && !errors.Is(err, common.ErrNotFound):
				return res, fmt.Errorf("seed %q: %w", t.Name, err)
			}
		}
		if _, err := r.Publish(ctx, &t); err != nil {
			return res, err
		}
		res.Published++
	}
	r.logger.Info("prompts.seed.done", "published", res.Published, "unchanged", res.Unchanged)
	return res, nil
}
