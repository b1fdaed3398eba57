// Package coaching produces live suggestions for the collector during a call.
//
// [Gate] throttles and caches calls to a [Client] (normally [LLMClient]) and
// falls back to deterministic rules from [Fallback] when the remote call fails
// or returns something unusable. Suggestions are never empty: if nothing else
// applies a generic rapport suggestion is returned.
package coaching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/types"
)

// ErrMalformedResponse is returned when the model reply cannot be decoded into
// at least one valid suggestion.
var ErrMalformedResponse = errors.New("coaching: malformed response")

// Request is the context sent to the coaching capability.
type Request struct {
	// CallID identifies the call the request belongs to. Results for a call
	// that is no longer active are discarded.
	CallID string `json:"-"`

	CustomerName   string               `json:"customerName"`
	DebtAmount     float64              `json:"debtAmount"`
	Transcript     string               `json:"transcript"`
	LastStatement  string               `json:"lastStatement"`
	SentimentLabel types.SentimentLabel `json:"sentimentLabel"`
	LanguageTag    string               `json:"languageTag"`
}

// Client requests suggestions from an external capability.
type Client interface {
	Suggest(ctx context.Context, req Request) ([]types.Suggestion, error)
}

const coachingPrompt = `You are a real-time coach for a debt collection agent in Kenya.
Read the call context and suggest what the agent should say or do next.
Be respectful and compliant: never threaten, shame or mislead the customer.
Return between one and three suggestions, most important first.
Each suggestion needs a short English title, the same title in the language given by
languageTag (Swahili for "sw"), a one-sentence description, and up to three phrases the
agent can say, with translations in localizedPhrases.`

type suggestionReply struct {
	Type             string   `json:"type" jsonschema:"enum=de_escalation,enum=empathy,enum=closing,enum=verification,enum=rapport,enum=negotiation,enum=information"`
	Priority         string   `json:"priority" jsonschema:"enum=high,enum=medium,enum=low"`
	Title            string   `json:"title"`
	LocalizedTitle   string   `json:"localizedTitle"`
	Description      string   `json:"description"`
	Phrases          []string `json:"phrases"`
	LocalizedPhrases []string `json:"localizedPhrases"`
}

type coachingReply struct {
	Suggestions []suggestionReply `json:"suggestions"`
}

// LLMClient implements [Client] on top of an [llm.Provider].
type LLMClient struct {
	llm         llm.Provider
	schema      *llm.ResponseSchema
	temperature float64
	newID       func() string
}

var _ Client = (*LLMClient)(nil)

// NewLLMClient creates a coaching client. temperature 0 selects the default
// of 0.4.
func NewLLMClient(p llm.Provider, temperature float64) (*LLMClient, error) {
	schema, err := llm.SchemaFor[coachingReply]()
	if err != nil {
		return nil, fmt.Errorf("coaching: %w", err)
	}
	schema.Name = "coaching_suggestions"
	schema.Description = "Live coaching suggestions for a debt collection agent."
	if temperature == 0 {
		temperature = 0.4
	}
	return &LLMClient{llm: p, schema: schema, temperature: temperature, newID: uuid.NewString}, nil
}

// Suggest asks the model for suggestions. Replies that fail to decode, or
// that contain no usable suggestion, yield [ErrMalformedResponse].
func (c *LLMClient) Suggest(ctx context.Context, req Request) ([]types.Suggestion, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("coaching: encode request: %w", err)
	}
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt:   coachingPrompt,
		Messages:       []types.Message{{Role: "user", Content: string(payload)}},
		Temperature:    c.temperature,
		MaxTokens:      800,
		ResponseSchema: c.schema,
	})
	if err != nil {
		return nil, fmt.Errorf("coaching: complete: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	var reply coachingReply
	if err := llm.DecodeJSON(resp.Content, &reply); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	out := make([]types.Suggestion, 0, len(reply.Suggestions))
	for _, s := range reply.Suggestions {
		sug, ok := c.toSuggestion(s)
		if ok {
			out = append(out, sug)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no valid suggestions", ErrMalformedResponse)
	}
	return out, nil
}

func (c *LLMClient) toSuggestion(s suggestionReply) (types.Suggestion, bool) {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		return types.Suggestion{}, false
	}
	typ := types.SuggestionType(s.Type)
	switch typ {
	case types.SuggestionDeEscalation, types.SuggestionEmpathy, types.SuggestionClosing,
		types.SuggestionVerification, types.SuggestionRapport, types.SuggestionNegotiation,
		types.SuggestionInformation:
	default:
		return types.Suggestion{}, false
	}
	prio := types.Severity(s.Priority)
	if prio != types.SeverityHigh && prio != types.SeverityLow {
		prio = types.SeverityMedium
	}
	localized := strings.TrimSpace(s.LocalizedTitle)
	if localized == "" {
		localized = title
	}
	return types.Suggestion{
		ID:               c.newID(),
		Type:             typ,
		Priority:         prio,
		Title:            title,
		LocalizedTitle:   localized,
		Description:      strings.TrimSpace(s.Description),
		Phrases:          nonEmpty(s.Phrases),
		LocalizedPhrases: nonEmpty(s.LocalizedPhrases),
	}, true
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
