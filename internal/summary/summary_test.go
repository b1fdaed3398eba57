package summary_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/callcoach/internal/lexicon"
	"github.com/MrWong99/callcoach/internal/summary"
	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/provider/llm/mock"
	"github.com/MrWong99/callcoach/pkg/types"
)

var fixedNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func mustLexicon(t *testing.T) *lexicon.Lexicon {
	t.Helper()
	lex, err := lexicon.Default("en")
	if err != nil {
		t.Fatalf("lexicon.Default: %v", err)
	}
	return lex
}

func newOrchestrator(t *testing.T, p llm.Provider, opts ...summary.Option) *summary.Orchestrator {
	t.Helper()
	opts = append([]summary.Option{summary.WithClock(func() time.Time { return fixedNow })}, opts...)
	o, err := summary.New(p, mustLexicon(t), opts...)
	if err != nil {
		t.Fatalf("summary.New: %v", err)
	}
	return o
}

func amount(v float64) *float64 { return &v }

func callWith(texts ...string) *types.Call {
	c := &types.Call{
		ID:       "call-1",
		Customer: types.Customer{Name: "Otieno Ouma", DebtAmount: 12000},
		Duration: 205,
		Status:   types.CallActive,
		Extraction: types.Extraction{
			Sentiment: types.NeutralSentiment,
		},
	}
	for i, text := range texts {
		c.Transcript = append(c.Transcript, types.TranscriptEntry{
			ID: string(rune('a' + i)), Speaker: types.SpeakerCustomer, Text: text, IsFinal: true,
		})
	}
	return c
}

func TestSummarise_MinimalSkipsModel(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	o := newOrchestrator(t, p)

	for _, c := range []*types.Call{callWith(), callWith("hello")} {
		got := o.Summarise(context.Background(), c)
		if got.Source != types.SummaryMinimal {
			t.Errorf("Source = %q, want minimal", got.Source)
		}
		if got.Text != summary.MinimalText {
			t.Errorf("Text = %q, want the minimal text", got.Text)
		}
		if len(got.NextActions) != 2 {
			t.Errorf("len(NextActions) = %d, want 2", len(got.NextActions))
		}
		if !got.GeneratedAt.Equal(fixedNow) {
			t.Errorf("GeneratedAt = %v, want %v", got.GeneratedAt, fixedNow)
		}
	}
	if n := len(p.Calls()); n != 0 {
		t.Errorf("model called %d times, want 0", n)
	}
}

func TestSummarise_UsesModelReply(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"summary":"Customer agreed to pay.","nextActions":["a","b","c","d","e","f"," "]}`,
	}}
	o := newOrchestrator(t, p)
	call := callWith("I promise I will pay KES 5,000 by Friday")

	got := o.Summarise(context.Background(), call)
	if got.Source != types.SummaryFromAI {
		t.Fatalf("Source = %q, want ai", got.Source)
	}
	if got.Text != "Customer agreed to pay." {
		t.Errorf("Text = %q", got.Text)
	}
	if !slices.Equal(got.NextActions, []string{"a", "b", "c", "d", "e"}) {
		t.Errorf("NextActions = %v, want the first 5", got.NextActions)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("model called %d times, want 1", len(calls))
	}
	req := calls[0].Req
	if req.ResponseSchema == nil || req.ResponseSchema.Name != "call_summary" {
		t.Errorf("ResponseSchema = %+v", req.ResponseSchema)
	}
	msg := req.Messages[0].Content
	for _, want := range []string{`"customerName":"Otieno Ouma"`, `"duration":"3:25"`, "KES 5,000"} {
		if !strings.Contains(msg, want) {
			t.Errorf("user message missing %q: %s", want, msg)
		}
	}
}

func TestSummarise_FallsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    llm.Provider
	}{
		{"provider error", &mock.Provider{CompleteErr: errors.New("503 service unavailable")}},
		{"not json", &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "I cannot help with that."}}},
		{"missing actions", &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"summary":"ok"}`}}},
		{"nil response", &mock.Provider{}},
		{"no provider", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o := newOrchestrator(t, tc.p)
			got := o.Summarise(context.Background(), callWith("The customer says they need more time to pay."))
			if got.Source != types.SummaryFromFallback {
				t.Errorf("Source = %q, want fallback", got.Source)
			}
			if !strings.HasPrefix(got.Text, "Call with Otieno Ouma lasted 3:25.") {
				t.Errorf("Text = %q", got.Text)
			}
			if len(got.NextActions) == 0 {
				t.Error("fallback next actions must not be empty")
			}
		})
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	d, err := summary.Decode("```json\n{\"summary\":\" Paid. \",\"nextActions\":[\" Close account \"]}\n```")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Text != "Paid." || !slices.Equal(d.NextActions, []string{"Close account"}) {
		t.Errorf("Decode = %+v", d)
	}

	for _, bad := range []string{"", "nope", `{"summary":"","nextActions":["x"]}`, `{"summary":"x","nextActions":[]}`} {
		if _, err := summary.Decode(bad); !errors.Is(err, summary.ErrMalformedResponse) {
			t.Errorf("Decode(%q) err = %v, want ErrMalformedResponse", bad, err)
		}
	}
}

func TestFallbackText(t *testing.T) {
	t.Parallel()

	call := callWith("whatever")
	call.Extraction = types.Extraction{
		Promises: []types.Promise{
			{ID: "p1", Amount: amount(5000)},
			{ID: "p2"},
			{ID: "p3", Amount: amount(2500.5)},
		},
		Objections: []types.Objection{
			{Type: types.ObjectionJobLoss},
			{Type: types.ObjectionFinancialHardship},
			{Type: types.ObjectionJobLoss},
		},
		Agreements: []types.Agreement{{Type: types.AgreementPaymentPlan}},
		Sentiment:  types.Sentiment{Label: types.SentimentNegative, Score: 20},
	}

	want := "Call with Otieno Ouma lasted 3:25. " +
		"The customer was frustrated or resistant during the call. " +
		"Objections raised: job loss, financial hardship. " +
		"The customer promised to pay KES 7,500.50 in total. " +
		"Agreements reached: payment plan."
	if got := summary.FallbackText(call); got != want {
		t.Errorf("FallbackText =\n%q\nwant\n%q", got, want)
	}
}

func TestFallbackText_NoSignals(t *testing.T) {
	t.Parallel()

	call := callWith("hello there, who is this?")
	call.Customer.Currency = "USD"
	want := "Call with Otieno Ouma lasted 3:25. The customer maintained a neutral tone during the call."
	if got := summary.FallbackText(call); got != want {
		t.Errorf("FallbackText = %q, want %q", got, want)
	}
}

func TestNextActions_PriorityOrder(t *testing.T) {
	t.Parallel()
	lex := mustLexicon(t)

	call := callWith("I'll pay by M-Pesa but please send me a statement first")
	call.Extraction = types.Extraction{
		Promises:   []types.Promise{{Amount: amount(3000), DueDate: "Friday"}},
		Agreements: []types.Agreement{{Type: types.AgreementPaymentPlan}, {Type: types.AgreementCallback}},
		Objections: []types.Objection{{Type: types.ObjectionDispute}},
		Sentiment:  types.Sentiment{Label: types.SentimentNegative, Score: 35},
	}

	got := summary.NextActions(lex, call, 0)
	want := []string{
		"Monitor the account for the promised payment of KES 3,000",
		"Send a payment reminder before Friday",
		"Verify the M-Pesa payment against the account once received",
		"Document the agreed payment plan and send the schedule to the customer",
		"Schedule the callback the customer agreed to",
		"Escalate the disputed balance to the disputes team",
		"Send the customer a detailed account statement",
		"Send the requested documents to the customer",
		"Escalate to a supervisor to review the customer relationship",
	}
	if !slices.Equal(got, want) {
		t.Errorf("NextActions =\n%q\nwant\n%q", got, want)
	}

	capped := summary.NextActions(lex, call, 5)
	if !slices.Equal(capped, want[:5]) {
		t.Errorf("capped NextActions = %q, want first 5", capped)
	}
}

func TestNextActions_Rules(t *testing.T) {
	t.Parallel()
	lex := mustLexicon(t)

	tests := []struct {
		name string
		text string
		ex   types.Extraction
		want []string
	}{
		{
			name: "promise without date",
			text: "I will pay soon",
			ex:   types.Extraction{Promises: []types.Promise{{}}},
			want: []string{"Confirm a specific payment date with the customer"},
		},
		{
			name: "job loss and medical",
			text: "I lost my job and I am in hospital",
			ex: types.Extraction{Objections: []types.Objection{
				{Type: types.ObjectionJobLoss}, {Type: types.ObjectionMedical},
			}},
			want: []string{
				"Review the account for a hardship arrangement",
				"Flag the account for medical hardship consideration",
			},
		},
		{
			name: "brief call default",
			text: "Hello? Hello?",
			want: []string{"Retry the call at a more convenient time for the customer"},
		},
		{
			name: "long call default",
			text: strings.Repeat("We talked about the weather and the family. ", 6),
			want: []string{"Schedule a follow-up call to discuss repayment options"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			call := callWith(tc.text)
			call.Extraction = tc.ex
			if got := summary.NextActions(lex, call, 5); !slices.Equal(got, tc.want) {
				t.Errorf("NextActions = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	t.Parallel()

	durations := map[int]string{0: "0:00", 59: "0:59", 205: "3:25", 3661: "1:01:01", -3: "0:00"}
	for in, want := range durations {
		if got := summary.FormatDuration(in); got != want {
			t.Errorf("FormatDuration(%d) = %q, want %q", in, got, want)
		}
	}

	amounts := map[float64]string{0: "0", 999: "999", 1000: "1,000", 1234567.891: "1,234,567.89", 5000.5: "5,000.50"}
	for in, want := range amounts {
		if got := summary.FormatAmount(in); got != want {
			t.Errorf("FormatAmount(%v) = %q, want %q", in, got, want)
		}
	}
}
