package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
	"github.com/joseph-ayodele/docingest/internal/llm"
	"github.com/joseph-ayodele/docingest/internal/prompts"
)

// Call is one request seen by ScriptedLLM.
type Call struct {
	Agent  string
	Prompt string
}

// ScriptedLLM answers by agent name. Unscripted agents get an error.
type ScriptedLLM struct {
	mu        sync.Mutex
	Responses map[string]string
	Errors    map[string]error
	Calls     []Call
}

func NewScriptedLLM() *ScriptedLLM {
	return &ScriptedLLM{Responses: map[string]string{}, Errors: map[string]error{}}
}

func (s *ScriptedLLM) Reply(agent, response string) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses[agent] = response
	delete(s.Errors, agent)
	return s
}

func (s *ScriptedLLM) Fail(agent string, err error) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors[agent] = err
	return s
}

func (s *ScriptedLLM) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Agent: opts.Agent, Prompt: prompt})
	if err, ok := s.Errors[opts.Agent]; ok {
		return "", err
	}
	if r, ok := s.Responses[opts.Agent]; ok {
		return r, nil
	}
	return "", fmt.Errorf("no scripted response for agent %q", opts.Agent)
}

// CallsFor returns the prompts sent for agent.
func (s *ScriptedLLM) CallsFor(agent string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.Calls {
		if c.Agent == agent {
			out = append(out, c.Prompt)
		}
	}
	return out
}

// PromptStore is an in-memory prompts.Store.
type PromptStore struct {
	mu       sync.Mutex
	versions map[string][]*entity.PromptTemplate
}

func NewPromptStore() *PromptStore {
	return &PromptStore{versions: map[string][]*entity.PromptTemplate{}}
}

func (m *PromptStore) GetActive(_ context.Context, name string) (*entity.PromptTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.versions[name] {
		if t.IsActive {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("prompt %q: %w", name, common.ErrNotFound)
}

func (m *PromptStore) Publish(_ context.Context, tpl *entity.PromptTemplate) (*entity.PromptTemplate, error) {
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

// SeededRegistry returns an uncached registry holding the built-in prompts.
func SeededRegistry(t testing.TB) *prompts.Registry {
	t.Helper()
	reg := prompts.NewRegistry(NewPromptStore(), 0, slog.Default())
	defaults, err := prompts.Defaults()
	require.NoError(t, err)
	_, err = reg.Seed(context.Background(), defaults, false)
	require.NoError(t, err)
	return reg
}
