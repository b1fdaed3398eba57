// Package extraction turns transcript chunks into partial extractions.
//
// [Engine.Analyze] is a pure function of its inputs (plus an injectable clock
// and ID source): it never touches session state and always returns a delta.
// Merging deltas into the accumulated call extraction is the session
// package's responsibility.
package extraction

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/callcoach/internal/lexicon"
	"github.com/MrWong99/callcoach/pkg/types"
)

const (
	// DefaultExcerptLength bounds promise, objection and agreement descriptions.
	DefaultExcerptLength = 100

	// DefaultQuoteLength bounds key quote candidates.
	DefaultQuoteLength = 150

	// minAgreementLength guards against one-word false positives like "okay".
	minAgreementLength = 20

	// minQuoteLength is the length a chunk must exceed to become a key quote.
	minQuoteLength = 30
)

// Engine runs rule-based extraction over transcript chunks.
// An Engine is safe for concurrent use.
type Engine struct {
	lex        *lexicon.Lexicon
	now        func() time.Time
	newID      func() string
	excerptLen int
	quoteLen   int
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithClock overrides the time source used to stamp detections.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDFunc overrides the ID generator. Defaults to random UUIDs.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithExcerptLength sets the maximum rune length of descriptions.
// Non-positive values are ignored.
func WithExcerptLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.excerptLen = n
		}
	}
}

// WithQuoteLength sets the maximum rune length of key quotes.
// Non-positive values are ignored.
func WithQuoteLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.quoteLen = n
		}
	}
}

// New creates an Engine backed by lex.
func New(lex *lexicon.Lexicon, opts ...Option) *Engine {
	e := &Engine{
		lex:        lex,
		now:        time.Now,
		newID:      uuid.NewString,
		excerptLen: DefaultExcerptLength,
		quoteLen:   DefaultQuoteLength,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Lexicon returns the lexicon the engine matches against.
func (e *Engine) Lexicon() *lexicon.Lexicon {
	return e.lex
}

// Analyze extracts signals from chunk. full is the transcript context the
// sentiment pass counts in addition to chunk. The returned extraction is a
// delta; significant reports whether a promise, objection or agreement was
// detected.
//
// Sentiment is always computed, regardless of significance.
func (e *Engine) Analyze(chunk, full string) (delta types.Extraction, significant bool) {
	chunk = strings.TrimSpace(chunk)
	lower := strings.ToLower(chunk)
	ts := e.now()

	amounts := e.lex.FindAmounts(chunk)
	var amount *float64
	if len(amounts) > 0 {
		if v, ok := lexicon.ParseAmount(amounts[0]); ok {
			amount = &v
		}
	}

	if _, ok := e.lex.MatchPromise(lower); ok {
		delta.Promises = append(delta.Promises, types.Promise{
			ID:          e.newID(),
			Amount:      amount,
			DueDate:     e.lex.FindDate(chunk),
			Description: truncate(chunk, e.excerptLen),
			Timestamp:   ts,
		})
		significant = true
	}

	if rule, _, ok := e.lex.MatchObjection(lower); ok {
		delta.Objections = append(delta.Objections, types.Objection{
			ID:          e.newID(),
			Type:        rule.Type,
			Severity:    rule.Severity,
			Description: truncate(chunk, e.excerptLen),
			Timestamp:   ts,
		})
		significant = true
	}

	if utf8.RuneCountInString(chunk) > minAgreementLength && e.lex.MatchAgreement(lower) {
		delta.Agreements = append(delta.Agreements, types.Agreement{
			ID:        e.newID(),
			Type:      e.lex.AgreementType(lower),
			Details:   truncate(chunk, e.excerptLen),
			Timestamp: ts,
		})
		significant = true
	}

	chunkPos, chunkNeg := e.lex.CountSentiment(lower)
	fullPos, fullNeg := e.lex.CountSentiment(strings.ToLower(full))
	delta.Sentiment = Sentiment(chunkPos+fullPos, chunkNeg+fullNeg)

	delta.Keywords = amounts

	if utf8.RuneCountInString(chunk) > minQuoteLength && significant {
		delta.KeyQuotes = append(delta.KeyQuotes, truncate(chunk, e.quoteLen))
	}

	return delta, significant
}

// Sentiment classifies cumulative keyword hit counts. A lead of more than one
// hit moves the label off neutral, 15 points per hit of difference, clamped to
// [5,95]. Otherwise the label is neutral and the score moves 10 points per hit.
func Sentiment(positive, negative int) types.Sentiment {
	switch {
	case positive > negative+1:
		return types.Sentiment{
			Label: types.SentimentPositive,
			Score: min(95, 50+15*(positive-negative)),
		}
	case negative > positive+1:
		return types.Sentiment{
			Label: types.SentimentNegative,
			Score: max(5, 50-15*(negative-positive)),
		}
	default:
		return types.Sentiment{
			Label: types.SentimentNeutral,
			Score: 50 + 10*(positive-negative),
		}
	}
}

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
