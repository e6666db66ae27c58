// Package prompts resolves versioned agent prompts and renders them.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

// Store persists prompt templates. GetActive returns an error wrapping
// common.ErrNotFound when no active version exists.
type Store interface {
	GetActive(ctx context.Context, name string) (*entity.PromptTemplate, error)
	Publish(ctx context.Context, tpl *entity.PromptTemplate) (*entity.PromptTemplate, error)
}

const defaultCacheSize = 64

// Registry serves the active version of each named template, cached for a
// short TTL so a published version is picked up without a restart.
type Registry struct {
	store  Store
	cache  *expirable.LRU[string, *entity.PromptTemplate]
	logger *slog.Logger
}

// NewRegistry creates a registry. ttl <= 0 disables caching.
func NewRegistry(store Store, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{store: store, logger: logger}
	if ttl > 0 {
		r.cache = expirable.NewLRU[string, *entity.PromptTemplate](defaultCacheSize, nil, ttl)
	}
	return r
}

// Resolve returns the active template for name.
func (r *Registry) Resolve(ctx context.Context, name string) (*entity.PromptTemplate, error) {
	name = strings.TrimSpace(name)
	if r.cache != nil {
		if tpl, ok := r.cache.Get(name); ok {
			return tpl, nil
		}
	}
	tpl, err := r.store.GetActive(ctx, name)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			r.logger.Error("prompts.resolve.not_found", "agent", name)
			return nil, common.NewAppError(common.CodeTemplateResolution, fmt.Sprintf("no active template %q", name), err)
		}
		return nil, fmt.Errorf("resolve template %q: %w", name, err)
	}
	if r.cache != nil {
		r.cache.Add(name, tpl)
	}
	r.logger.Debug("prompts.resolve.ok", "agent", name, "version", tpl.Version)
	return tpl, nil
}

// ResolveAndRender resolves name and renders it with vars.
func (r *Registry) ResolveAndRender(ctx context.Context, name string, vars map[string]string) (*entity.PromptTemplate, string, error) {
	tpl, err := r.Resolve(ctx, name)
	if err != nil {
		return nil, "", err
	}
	out, err := Render(tpl, vars)
	if err != nil {
		return tpl, "", err
	}
	return tpl, out, nil
}

// Publish stores tpl as the new active version of its name. Declared
// variables default to the placeholders found in the body.
func (r *Registry) Publish(ctx context.Context, tpl *entity.PromptTemplate) (*entity.PromptTemplate, error) {
	if err := common.ValidateStruct(tpl); err != nil {
		return nil, err
	}
	if len(tpl.Variables) == 0 {
		tpl.Variables = Placeholders(tpl.Body)
	}
	saved, err := r.store.Publish(ctx, tpl)
	if err != nil {
		return nil, fmt.Errorf("publish template %q: %w", tpl.Name, err)
	}
	if r.cache != nil {
		r.cache.Remove(saved.Name)
	}
	r.logger.Info("prompts.publish.ok", "agent", saved.Name, "version", saved.Version)
	return saved, nil
}
