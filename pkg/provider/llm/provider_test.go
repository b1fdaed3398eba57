package llm_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/types"
)

func TestCompletionRequest_Validate(t *testing.T) {
	t.Parallel()

	user := []types.Message{{Role: "user", Content: `{"transcript":"nitalipa kesho"}`}}
	schema := map[string]any{"type": "object"}

	tests := []struct {
		name    string
		req     llm.CompletionRequest
		wantErr bool
	}{
		{"minimal", llm.CompletionRequest{Messages: user}, false},
		{"with schema", llm.CompletionRequest{
			Messages:       user,
			Temperature:    0.3,
			MaxTokens:      800,
			ResponseSchema: &llm.ResponseSchema{Name: "call_summary", Schema: schema},
		}, false},
		{"no messages", llm.CompletionRequest{SystemPrompt: "coach"}, true},
		{"temperature too high", llm.CompletionRequest{Messages: user, Temperature: 2.5}, true},
		{"negative max tokens", llm.CompletionRequest{Messages: user, MaxTokens: -1}, true},
		{"schema name with spaces", llm.CompletionRequest{
			Messages:       user,
			ResponseSchema: &llm.ResponseSchema{Name: "call summary", Schema: schema},
		}, true},
		{"unnamed schema", llm.CompletionRequest{
			Messages:       user,
			ResponseSchema: &llm.ResponseSchema{Schema: schema},
		}, true},
		{"empty schema", llm.CompletionRequest{
			Messages:       user,
			ResponseSchema: &llm.ResponseSchema{Name: "coaching_suggestions"},
		}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.req.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, llm.ErrInvalidRequest) {
				t.Errorf("error %v does not wrap ErrInvalidRequest", err)
			}
		})
	}
}
