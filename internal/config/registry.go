package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
)

// ErrProviderNotRegistered means no factory exists for a provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds a model client from its config entry.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// Registry resolves [ProviderEntry] names to factories. Names are matched
// case-insensitively so "OpenAI" and "openai" in YAML mean the same backend.
// A Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]LLMFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]LLMFactory{}}
}

// RegisterLLM installs factory under name, replacing any earlier one.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	r.factories[strings.ToLower(name)] = factory
	r.mu.Unlock()
}

// LLMNames lists the registered names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// CreateLLM builds the provider for entry. Errors from the factory are
// returned with the provider name attached.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	name := strings.ToLower(entry.Name)
	r.mu.RLock()
	factory := r.factories[name]
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: llm %q", ErrProviderNotRegistered, entry.Name)
	}

	p, err := factory(entry)
	switch {
	case err != nil:
		return nil, fmt.Errorf("config: llm %q: %w", name, err)
	case p == nil:
		return nil, fmt.Errorf("config: llm %q: factory returned no provider", name)
	}
	return p, nil
}
