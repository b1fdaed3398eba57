// Package mock is an in-memory [llm.Provider] for tests. It replies with a
// canned response or a caller-supplied function and records every request so
// tests can assert on the prompt the coaching and summary clients built.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"summary":"ok","nextActions":[]}`}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Call is one recorded Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider replies with CompleteFunc when set, otherwise with
// CompleteResponse and CompleteErr. A zero Provider returns (nil, nil).
type Provider struct {
	CompleteResponse  *llm.CompletionResponse
	CompleteErr       error
	CompleteFunc      func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	ModelCapabilities types.ModelCapabilities

	mu        sync.Mutex
	calls     []Call
	capsCalls int
}

// Complete implements [llm.Provider]. CompleteFunc runs without the lock
// held, so it may block on ctx.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	p.mu.Unlock()

	if p.CompleteFunc != nil {
		return p.CompleteFunc(ctx, req)
	}
	return p.CompleteResponse, p.CompleteErr
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	p.capsCalls++
	p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns the recorded Complete invocations, oldest first.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// CapabilitiesCalls reports how often Capabilities was called.
func (p *Provider) CapabilitiesCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capsCalls
}
