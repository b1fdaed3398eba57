package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/callcoach/pkg/provider/llm/mock"
	"github.com/MrWong99/callcoach/pkg/types"
)

func TestLLMChain_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "primary"}}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}}

	c := NewLLMChain(primary, "openai", BreakerConfig{MaxFailures: 3})
	c.Add("ollama", secondary)

	resp, err := c.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "primary" {
		t.Fatalf("content = %q, want primary", resp.Content)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls()))
	}
	if got := c.Names(); len(got) != 2 || got[0] != "openai" || got[1] != "ollama" {
		t.Errorf("Names() = %v", got)
	}
}

func TestLLMChain_Failover(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}}

	c := NewLLMChain(primary, "primary", BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	c.Add("secondary", secondary)

	for range 3 {
		resp, err := c.Complete(context.Background(), llm.CompletionRequest{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Content != "secondary" {
			t.Fatalf("content = %q, want secondary", resp.Content)
		}
	}
	// Primary breaker opened after the first failure.
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary called %d times, want 1", n)
	}
}

func TestLLMChain_AllFailed(t *testing.T) {
	c := NewLLMChain(&llmmock.Provider{CompleteErr: errors.New("a")}, "a", BreakerConfig{})
	c.Add("b", &llmmock.Provider{CompleteErr: errors.New("b")})

	_, err := c.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMChain_CancelledContextStops(t *testing.T) {
	primary := &llmmock.Provider{}
	c := NewLLMChain(primary, "a", BreakerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(primary.Calls()) != 0 {
		t.Error("no backend should be called with a cancelled context")
	}
}

func TestLLMChain_Capabilities(t *testing.T) {
	primary := &llmmock.Provider{ModelCapabilities: types.ModelCapabilities{ContextWindow: 1000, SupportsStructuredOutput: true}}
	c := NewLLMChain(primary, "a", BreakerConfig{})
	c.Add("b", &llmmock.Provider{ModelCapabilities: types.ModelCapabilities{ContextWindow: 5}})

	if got := c.Capabilities(); got.ContextWindow != 1000 || !got.SupportsStructuredOutput {
		t.Errorf("Capabilities() = %+v, want primary's", got)
	}
}
