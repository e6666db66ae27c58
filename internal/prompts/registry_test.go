package prompts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

type memStore struct {
	mu       sync.Mutex
	versions map[string][]*entity.PromptTemplate
	gets     int
}

func newMemStore() *memStore { return &memStore{versions: map[string][]*entity.PromptTemplate{}} }

func (m *memStore) GetActive(_ context.Context, name string) (*entity.PromptTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	for _, t := range m.versions[name] {
		if t.IsActive {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("prompt %q: %w", name, common.ErrNotFound)
}

func (m *memStore) Publish(_ context.Context, tpl *entity.PromptTemplate) (*entity.PromptTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.versions[tpl.Name] {
		t.IsActive = false
	}
	cp := *tpl
	cp.ID = uuid.New()
	cp.Version = len(m.versions[tpl.Name]) + 1
	cp.IsActive = true
	m.versions[tpl.Name] = append(m.versions[tpl.Name], &cp)
	out := cp
	return &out, nil
}

func TestRender(t *testing.T) {
	tpl := &entity.PromptTemplate{Name: "a", Body: "Classify:\n{{document_text}}\n-- {{ tenant }}", Variables: []string{"document_text"}}

	t.Run("Should substitute every placeholder", func(t *testing.T) {
		out, err := Render(tpl, map[string]string{"document_text": "text with {{braces}}", "tenant": "t1"})
		require.NoError(t, err)
		assert.Equal(t, "Classify:\ntext with {{braces}}\n-- t1", out)
	})

	t.Run("Should fail on a missing declared variable", func(t *testing.T) {
		_, err := Render(tpl, map[string]string{"tenant": "t1"})
		assert.ErrorIs(t, err, common.ErrTemplateResolution)
	})

	t.Run("Should fail on a leftover placeholder", func(t *testing.T) {
		_, err := Render(tpl, map[string]string{"document_text": "x"})
		require.ErrorIs(t, err, common.ErrTemplateResolution)
		assert.Contains(t, err.Error(), "tenant")
	})
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Placeholders("{{a}} {{ b }} {{a}}"))
	assert.Empty(t, Placeholders("no placeholders"))
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("Should report an unknown agent as a resolution failure", func(t *testing.T) {
		r := NewRegistry(newMemStore(), time.Minute, nil)
		_, err := r.Resolve(ctx, "nope")
		assert.ErrorIs(t, err, common.ErrTemplateResolution)
	})

	t.Run("Should activate the new version and invalidate the cache on publish", func(t *testing.T) {
		store := newMemStore()
		r := NewRegistry(store, time.Minute, nil)

		v1, err := r.Publish(ctx, &entity.PromptTemplate{Name: "x", Body: "one {{document_text}}"})
		require.NoError(t, err)
		assert.Equal(t, 1, v1.Version)
		assert.Equal(t, []string{"document_text"}, v1.Variables)

		got, err := r.Resolve(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
		_, err = r.Resolve(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, 1, store.gets, "second resolve is served from cache")

		_, err = r.Publish(ctx, &entity.PromptTemplate{Name: "x", Body: "two {{document_text}}"})
		require.NoError(t, err)
		got, err = r.Resolve(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.Equal(t, "two {{document_text}}", got.Body)
	})

	t.Run("Should reject an empty body on publish", func(t *testing.T) {
		r := NewRegistry(newMemStore(), 0, nil)
		_, err := r.Publish(ctx, &entity.PromptTemplate{Name: "x"})
		assert.ErrorIs(t, err, common.ErrValidation)
	})
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	defaults, err := Defaults()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, d := range defaults {
		names[d.Name] = true
		assert.Contains(t, d.Variables, "document_text", d.Name)
		assert.Contains(t, Placeholders(d.Body), "document_text", d.Name)
	}
	for _, n := range []string{"document_classifier", "invoice_extractor", "minutes_extractor", "contract_extractor",
		"notice_extractor", "delivery_note_extractor", "budget_extractor", "property_deed_extractor"} {
		assert.True(t, names[n], n)
	}

	store := newMemStore()
	r := NewRegistry(store, 0, nil)
	res, err := r.Seed(ctx, defaults, false)
	require.NoError(t, err)
	assert.Equal(t, len(defaults), res.Published)

	res, err = r.Seed(ctx, defaults, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Published)
	assert.Equal(t, len(defaults), res.Unchanged)

	res, err = r.Seed(ctx, defaults[:1], true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	tpl, err := r.Resolve(ctx, defaults[0].Name)
	require.NoError(t, err)
	assert.Equal(t, 2, tpl.Version)
}
