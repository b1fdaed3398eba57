package extraction_test

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/callcoach/internal/extraction"
	"github.com/MrWong99/callcoach/internal/lexicon"
	"github.com/MrWong99/callcoach/pkg/types"
)

var fixedNow = time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...extraction.Option) *extraction.Engine {
	t.Helper()
	lex, err := lexicon.Default("en")
	if err != nil {
		t.Fatalf("lexicon.Default: %v", err)
	}
	n := 0
	base := []extraction.Option{
		extraction.WithClock(func() time.Time { return fixedNow }),
		extraction.WithIDFunc(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	}
	return extraction.New(lex, append(base, opts...)...)
}

func TestAnalyze_PromiseWithAmountAndDate(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	chunk := "I promise I will pay KES 5,000 by Friday"
	delta, significant := e.Analyze(chunk, "")

	if !significant {
		t.Fatal("expected significant content")
	}
	if len(delta.Promises) != 1 {
		t.Fatalf("expected 1 promise, got %d", len(delta.Promises))
	}
	p := delta.Promises[0]
	if p.Amount == nil || *p.Amount != 5000 {
		t.Errorf("Amount = %v, want 5000", p.Amount)
	}
	if p.DueDate != "Friday" {
		t.Errorf("DueDate = %q, want Friday", p.DueDate)
	}
	if p.Description != chunk {
		t.Errorf("Description = %q, want %q", p.Description, chunk)
	}
	if !p.Timestamp.Equal(fixedNow) {
		t.Errorf("Timestamp = %v, want %v", p.Timestamp, fixedNow)
	}
	if len(delta.Objections) != 0 || len(delta.Agreements) != 0 {
		t.Errorf("unexpected detections: %+v", delta)
	}
	if len(delta.Keywords) != 1 || delta.Keywords[0] != "KES 5,000" {
		t.Errorf("Keywords = %q, want [KES 5,000]", delta.Keywords)
	}
	if len(delta.KeyQuotes) != 1 || delta.KeyQuotes[0] != chunk {
		t.Errorf("KeyQuotes = %q", delta.KeyQuotes)
	}
}

func TestAnalyze_PromiseDescriptionTruncated(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	chunks := []string{
		"I will pay " + strings.Repeat("a", 200),
		"nitalipa " + strings.Repeat("ü", 150),
		"i'll pay",
	}
	for _, chunk := range chunks {
		delta, _ := e.Analyze(chunk, "")
		if len(delta.Promises) != 1 {
			t.Fatalf("Analyze(%.20q): expected exactly 1 promise, got %d", chunk, len(delta.Promises))
		}
		desc := delta.Promises[0].Description
		if n := utf8.RuneCountInString(desc); n > extraction.DefaultExcerptLength {
			t.Errorf("description has %d runes, want <= %d", n, extraction.DefaultExcerptLength)
		}
		if !utf8.ValidString(desc) {
			t.Errorf("description is not valid UTF-8: %q", desc)
		}
		if !strings.HasPrefix(chunk, desc) {
			t.Errorf("description %q is not a prefix of the chunk", desc)
		}
	}
}

func TestAnalyze_PromiseWithoutAmount(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	delta, _ := e.Analyze("I will pay when I can", "")
	if len(delta.Promises) != 1 {
		t.Fatalf("expected 1 promise, got %d", len(delta.Promises))
	}
	if delta.Promises[0].Amount != nil {
		t.Errorf("expected no amount, got %v", *delta.Promises[0].Amount)
	}
	if delta.Keywords != nil {
		t.Errorf("expected no keywords, got %q", delta.Keywords)
	}
}

func TestAnalyze_ObjectionJobLoss(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	delta, significant := e.Analyze("I lost my job and can't afford this", "")
	if !significant {
		t.Fatal("expected significant content")
	}
	if len(delta.Objections) != 1 {
		t.Fatalf("expected exactly 1 objection, got %d", len(delta.Objections))
	}
	o := delta.Objections[0]
	if o.Type != types.ObjectionJobLoss || o.Severity != types.SeverityHigh {
		t.Errorf("objection = %s/%s, want job_loss/high", o.Type, o.Severity)
	}
}

func TestAnalyze_AgreementLengthGuard(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	delta, significant := e.Analyze("sounds good", "")
	if significant || len(delta.Agreements) != 0 {
		t.Errorf("short chunk should not produce an agreement: %+v", delta.Agreements)
	}

	delta, significant = e.Analyze("Okay, we agree on a monthly payment plan", "")
	if !significant {
		t.Fatal("expected significant content")
	}
	if len(delta.Agreements) != 1 || delta.Agreements[0].Type != types.AgreementPaymentPlan {
		t.Errorf("Agreements = %+v, want one payment_plan", delta.Agreements)
	}
}

func TestAnalyze_MultipleCategories(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	delta, _ := e.Analyze("I was in hospital, but I agree to a payment plan and I will pay 2,000 bob monthly", "")
	if len(delta.Promises) != 1 || len(delta.Objections) != 1 || len(delta.Agreements) != 1 {
		t.Fatalf("expected one of each, got %d/%d/%d", len(delta.Promises), len(delta.Objections), len(delta.Agreements))
	}
	if delta.Objections[0].Type != types.ObjectionMedical {
		t.Errorf("objection type = %s, want medical", delta.Objections[0].Type)
	}
	if *delta.Promises[0].Amount != 2000 {
		t.Errorf("amount = %v, want 2000", *delta.Promises[0].Amount)
	}
}

func TestAnalyze_NonSignificant(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	delta, significant := e.Analyze("Good morning, am I speaking with Wanjiku Kamau today?", "")
	if significant {
		t.Error("small talk should not be significant")
	}
	if len(delta.KeyQuotes) != 0 {
		t.Errorf("expected no key quotes, got %q", delta.KeyQuotes)
	}
	if delta.Sentiment != types.NeutralSentiment {
		t.Errorf("Sentiment = %+v, want neutral/50", delta.Sentiment)
	}
}

func TestAnalyze_SentimentCountsBothScopes(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	// One hit in the chunk is neutral on its own.
	delta, _ := e.Analyze("thanks", "")
	if delta.Sentiment.Label != types.SentimentNeutral || delta.Sentiment.Score != 60 {
		t.Errorf("Sentiment = %+v, want neutral/60", delta.Sentiment)
	}

	// Two more in the full transcript tip it to positive: 3-0 -> 50+45.
	delta, _ = e.Analyze("thanks", "thank you, I appreciate it")
	if delta.Sentiment.Label != types.SentimentPositive || delta.Sentiment.Score != 95 {
		t.Errorf("Sentiment = %+v, want positive/95", delta.Sentiment)
	}

	delta, _ = e.Analyze("stop calling me, this is ridiculous", "I am angry")
	if delta.Sentiment.Label != types.SentimentNegative || delta.Sentiment.Score != 5 {
		t.Errorf("Sentiment = %+v, want negative/5", delta.Sentiment)
	}
}

func TestSentiment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pos, neg int
		want     types.Sentiment
	}{
		{0, 0, types.Sentiment{Label: types.SentimentNeutral, Score: 50}},
		{1, 0, types.Sentiment{Label: types.SentimentNeutral, Score: 60}},
		{0, 1, types.Sentiment{Label: types.SentimentNeutral, Score: 40}},
		{3, 3, types.Sentiment{Label: types.SentimentNeutral, Score: 50}},
		{2, 0, types.Sentiment{Label: types.SentimentPositive, Score: 80}},
		{10, 0, types.Sentiment{Label: types.SentimentPositive, Score: 95}},
		{0, 2, types.Sentiment{Label: types.SentimentNegative, Score: 20}},
		{1, 9, types.Sentiment{Label: types.SentimentNegative, Score: 5}},
	}
	for _, tc := range tests {
		got := extraction.Sentiment(tc.pos, tc.neg)
		if got != tc.want {
			t.Errorf("Sentiment(%d, %d) = %+v, want %+v", tc.pos, tc.neg, got, tc.want)
		}
		if got.Score < 5 || got.Score > 95 {
			t.Errorf("Sentiment(%d, %d) score %d out of [5,95]", tc.pos, tc.neg, got.Score)
		}
	}
}

func TestAnalyze_QuoteLength(t *testing.T) {
	t.Parallel()
	e := newEngine(t, extraction.WithQuoteLength(40), extraction.WithExcerptLength(20))

	chunk := "I promise I will pay the full balance of KES 12,500 at the end of the month"
	delta, _ := e.Analyze(chunk, "")
	if got := delta.KeyQuotes[0]; utf8.RuneCountInString(got) != 40 {
		t.Errorf("quote length = %d, want 40", utf8.RuneCountInString(got))
	}
	if got := delta.Promises[0].Description; utf8.RuneCountInString(got) != 20 {
		t.Errorf("description length = %d, want 20", utf8.RuneCountInString(got))
	}
	if got := delta.Promises[0].DueDate; got != "end of the month" {
		t.Errorf("DueDate = %q, want end of the month", got)
	}
}
