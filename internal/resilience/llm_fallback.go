package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/types"
)

// ErrAllFailed is returned when every backend in an [LLMChain] failed or had
// an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type chainEntry struct {
	name     string
	provider llm.Provider
	breaker  *Breaker
}

// LLMChain implements [llm.Provider] with ordered failover. Each backend has
// its own [Breaker]; a backend whose breaker is open is skipped.
type LLMChain struct {
	cfg     BreakerConfig
	entries []chainEntry
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain creates a chain with primary as the preferred backend. cfg is
// the template for every backend's breaker; its Name is replaced per backend.
func NewLLMChain(primary llm.Provider, primaryName string, cfg BreakerConfig) *LLMChain {
	c := &LLMChain{cfg: cfg}
	c.Add(primaryName, primary)
	return c
}

// Add appends a fallback backend. Backends are tried in the order added.
// Add must not be called concurrently with Complete.
func (c *LLMChain) Add(name string, p llm.Provider) {
	bc := c.cfg
	bc.Name = name
	c.entries = append(c.entries, chainEntry{name: name, provider: p, breaker: NewBreaker(bc)})
}

// Names returns the backend names in failover order.
func (c *LLMChain) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Complete sends req to the first healthy backend. A cancelled ctx stops the
// chain immediately rather than burning through the fallbacks.
func (c *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var resp *llm.CompletionResponse
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			resp, err = e.provider.Complete(ctx, req)
			return err
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping llm provider (circuit open)", "provider", e.name)
			continue
		}
		slog.Warn("llm provider failed, trying next", "provider", e.name, "err", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Capabilities reports the primary backend's capabilities.
func (c *LLMChain) Capabilities() types.ModelCapabilities {
	if len(c.entries) == 0 {
		return types.ModelCapabilities{}
	}
	return c.entries[0].provider.Capabilities()
}
