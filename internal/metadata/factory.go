package metadata

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
)

// Factory maps document types to strategies. Registrations may be added at
// any time.
type Factory struct {
	mu         sync.RWMutex
	strategies map[constants.DocumentType]Strategy
}

func NewFactory() *Factory {
	return &Factory{strategies: make(map[constants.DocumentType]Strategy)}
}

// NewDefaultFactory registers an agent strategy for every built-in definition.
func NewDefaultFactory(deps Deps) *Factory {
	f := NewFactory()
	for _, def := range Definitions() {
		f.Register(NewAgentStrategy(def, deps))
	}
	return f
}

// Register adds or replaces the strategy for s.DocumentType().
func (f *Factory) Register(s Strategy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies[s.DocumentType()] = s
}

// Resolve returns the strategy for t, or ErrUnsupportedDocumentType.
func (f *Factory) Resolve(t constants.DocumentType) (Strategy, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s, ok := f.strategies[t]; ok {
		return s, nil
	}
	return nil, common.NewAppError(common.CodeUnsupportedDocumentType, fmt.Sprintf("no strategy for %q", t), nil)
}

// Types lists the registered document types in lexical order.
func (f *Factory) Types() []constants.DocumentType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]constants.DocumentType, 0, len(f.strategies))
	for t := range f.strategies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
