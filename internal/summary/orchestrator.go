// Package summary produces the end-of-call summary and next actions.
//
// [Orchestrator.Summarise] asks the model for a structured reply and, when
// the call fails or the reply does not validate, synthesises the summary from
// the call's extraction. It never returns an error: every failure degrades to
// the deterministic path.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/callcoach/internal/lexicon"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/types"
)

// Default orchestrator tuning.
const (
	DefaultMinChars    = 10
	DefaultMaxActions  = 5
	DefaultTimeout     = 30 * time.Second
	DefaultTemperature = 0.3
)

const summaryPrompt = `You summarise debt collection calls for the collections team in Kenya.
You receive the call transcript, the customer's details and the promises, objections,
agreements and sentiment detected during the call.
Write a factual summary of three to five sentences: what the customer committed to,
what obstacles they raised, and the overall tone. Then list concrete next actions for
the team, most important first. Amounts are in the customer's currency.`

// Orchestrator produces call summaries. It is safe for concurrent use.
type Orchestrator struct {
	llm         llm.Provider
	lex         *lexicon.Lexicon
	schema      *llm.ResponseSchema
	minChars    int
	maxActions  int
	timeout     time.Duration
	temperature float64
	now         func() time.Time
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithMinChars sets the transcript length below which the model is skipped.
func WithMinChars(n int) Option {
	return func(o *Orchestrator) { o.minChars = n }
}

// WithMaxActions caps the number of next actions.
func WithMaxActions(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxActions = n
		}
	}
}

// WithTimeout bounds the model call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithClock overrides the time source used for GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. p may be nil, in which case every summary is
// produced by the fallback path.
func New(p llm.Provider, lex *lexicon.Lexicon, opts ...Option) (*Orchestrator, error) {
	schema, err := llm.SchemaFor[reply]()
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	schema.Name = "call_summary"
	schema.Description = "Summary and next actions for a completed debt collection call."

	o := &Orchestrator{
		llm:         p,
		lex:         lex,
		schema:      schema,
		minChars:    DefaultMinChars,
		maxActions:  DefaultMaxActions,
		timeout:     DefaultTimeout,
		temperature: DefaultTemperature,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Summarise returns the summary for call. The result is never nil.
func (o *Orchestrator) Summarise(ctx context.Context, call *types.Call) *types.Summary {
	transcript := call.TranscriptText()
	if utf8.RuneCountInString(transcript) < o.minChars {
		return &types.Summary{
			Text:        MinimalText,
			NextActions: append([]string(nil), minimalActions...),
			Source:      types.SummaryMinimal,
			GeneratedAt: o.now(),
		}
	}

	if o.llm != nil {
		ctx = observe.WithCallID(ctx, call.ID)
		d, err := o.complete(ctx, call, transcript)
		if err == nil {
			return &types.Summary{
				Text:        d.Text,
				NextActions: o.capActions(d.NextActions),
				Source:      types.SummaryFromAI,
				GeneratedAt: o.now(),
			}
		}
		observe.Logger(ctx).Warn("summary: model unavailable, using fallback", "err", err)
	}

	return &types.Summary{
		Text:        FallbackText(call),
		NextActions: NextActions(o.lex, call, o.maxActions),
		Source:      types.SummaryFromFallback,
		GeneratedAt: o.now(),
	}
}

// summaryContext is the user message sent to the model.
type summaryContext struct {
	CustomerName string            `json:"customerName"`
	DebtAmount   float64           `json:"debtAmount"`
	Currency     string            `json:"currency"`
	Duration     string            `json:"duration"`
	Transcript   string            `json:"transcript"`
	Promises     []types.Promise   `json:"promises"`
	Objections   []types.Objection `json:"objections"`
	Agreements   []types.Agreement `json:"agreements"`
	Sentiment    types.Sentiment   `json:"sentiment"`
}

func (o *Orchestrator) complete(ctx context.Context, call *types.Call, transcript string) (Decoded, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(summaryContext{
		CustomerName: call.Customer.Name,
		DebtAmount:   call.Customer.DebtAmount,
		Currency:     currencyOf(call.Customer),
		Duration:     FormatDuration(call.Duration),
		Transcript:   transcript,
		Promises:     call.Extraction.Promises,
		Objections:   call.Extraction.Objections,
		Agreements:   call.Extraction.Agreements,
		Sentiment:    call.Extraction.Sentiment,
	})
	if err != nil {
		return Decoded{}, fmt.Errorf("summary: encode context: %w", err)
	}

	resp, err := o.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt:   summaryPrompt,
		Messages:       []types.Message{{Role: "user", Content: string(payload)}},
		Temperature:    o.temperature,
		MaxTokens:      1000,
		ResponseSchema: o.schema,
	})
	if err != nil {
		return Decoded{}, fmt.Errorf("summary: complete: %w", err)
	}
	if resp == nil {
		return Decoded{}, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	return Decode(resp.Content)
}

func (o *Orchestrator) capActions(actions []string) []string {
	if len(actions) > o.maxActions {
		return actions[:o.maxActions]
	}
	return actions
}
