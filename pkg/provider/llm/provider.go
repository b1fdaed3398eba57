// Package llm is the model-agnostic completion API used by the coaching and
// summary clients. Backends live in the subpackages: openai talks to the
// OpenAI API directly, anyllm covers every backend any-llm-go supports and
// mock replays canned replies in tests.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/MrWong99/callcoach/pkg/types"
)

// ErrInvalidRequest is wrapped by [CompletionRequest.Validate].
var ErrInvalidRequest = errors.New("llm: invalid completion request")

var schemaName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Provider completes a conversation. Implementations are safe for concurrent
// use and return once ctx is done.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities describes the configured model. It does not call out.
	Capabilities() types.ModelCapabilities
}

// CompletionRequest is one non-streaming completion.
type CompletionRequest struct {
	// SystemPrompt goes ahead of Messages.
	SystemPrompt string
	Messages     []types.Message

	// Zero Temperature or MaxTokens leaves the backend default in place.
	Temperature float64
	MaxTokens   int

	// ResponseSchema, when set, asks for a single JSON document. Backends
	// without structured outputs fall back to describing it in the prompt.
	ResponseSchema *ResponseSchema
}

// ResponseSchema names a JSON schema for the reply.
type ResponseSchema struct {
	Name        string // e.g. "call_summary"
	Description string
	Schema      map[string]any
}

// Validate reports requests no backend can serve.
func (r CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidRequest)
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("%w: temperature %.2f outside [0, 2]", ErrInvalidRequest, r.Temperature)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("%w: negative max tokens", ErrInvalidRequest)
	}
	if rs := r.ResponseSchema; rs != nil {
		if !schemaName.MatchString(rs.Name) {
			return fmt.Errorf("%w: schema name %q", ErrInvalidRequest, rs.Name)
		}
		if len(rs.Schema) == 0 {
			return fmt.Errorf("%w: schema %q is empty", ErrInvalidRequest, rs.Name)
		}
	}
	return nil
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Usage is token accounting as reported by the backend. TotalTokens comes
// from the backend too and is not always the sum of the parts.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
