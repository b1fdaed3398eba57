// Package types defines the shared data model used across all callcoach packages.
//
// These types form the lingua franca between the extraction engine, session
// state, coaching gate, summary orchestrator, history stores and the HTTP layer.
// They are intentionally plain data; behaviour lives in the packages that own
// each lifecycle step.
package types

import (
	"errors"
	"strings"
	"time"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	// SpeakerAgent is the collector operating the assistant.
	SpeakerAgent Speaker = "agent"

	// SpeakerCustomer is the debtor on the other end of the call.
	SpeakerCustomer Speaker = "customer"
)

// IsValid reports whether s is a known speaker tag.
func (s Speaker) IsValid() bool {
	return s == SpeakerAgent || s == SpeakerCustomer
}

// TranscriptEntry is one recognised utterance. Interim entries are never
// appended to a call's transcript log; they are only surfaced as a preview.
type TranscriptEntry struct {
	ID      string  `json:"id"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`

	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
	IsFinal   bool  `json:"isFinal"`
}

// Promise is a payment commitment detected in the transcript.
// Promises are immutable once created and are never deduplicated.
type Promise struct {
	ID string `json:"id"`

	// Amount is the parsed numeric value, currency-agnostic. Nil when the
	// source text carried no recognisable amount.
	Amount *float64 `json:"amount,omitempty"`

	// DueDate is the matched date phrase, e.g. "Friday" or "end of month".
	DueDate     string    `json:"dueDate,omitempty"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// AmountOrZero returns the promised amount, treating a missing amount as 0.
func (p Promise) AmountOrZero() float64 {
	if p.Amount == nil {
		return 0
	}
	return *p.Amount
}

// ObjectionType classifies the reason a customer pushes back.
type ObjectionType string

const (
	ObjectionFinancialHardship ObjectionType = "financial_hardship"
	ObjectionJobLoss           ObjectionType = "job_loss"
	ObjectionMedical           ObjectionType = "medical"
	ObjectionDispute           ObjectionType = "dispute"
	ObjectionOther             ObjectionType = "other"
)

// Severity ranks how hard an objection is to overcome.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Objection is a customer objection detected in the transcript.
type Objection struct {
	ID          string        `json:"id"`
	Type        ObjectionType `json:"type"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	Timestamp   time.Time     `json:"timestamp"`
}

// AgreementType classifies a detected agreement.
type AgreementType string

const (
	AgreementPaymentPlan   AgreementType = "payment_plan"
	AgreementSettlement    AgreementType = "settlement"
	AgreementCallback      AgreementType = "callback"
	AgreementDocumentation AgreementType = "documentation"
	AgreementOther         AgreementType = "other"
)

// Agreement is a mutual arrangement detected in the transcript.
type Agreement struct {
	ID        string        `json:"id"`
	Type      AgreementType `json:"type"`
	Details   string        `json:"details"`
	Timestamp time.Time     `json:"timestamp"`
}

// SentimentLabel is the coarse classification of customer mood.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// Sentiment is recomputed on every analysis pass over the whole transcript.
// Score lies in [5,95], or is exactly 50 for the balanced neutral case.
type Sentiment struct {
	Label SentimentLabel `json:"label"`
	Score int            `json:"score"`
}

// NeutralSentiment is the sentiment of a call with no keyword hits.
var NeutralSentiment = Sentiment{Label: SentimentNeutral, Score: 50}

// Extraction is either the accumulated signal set of a call or the partial
// delta produced by analysing a single chunk. List fields only ever grow while
// a call is active.
type Extraction struct {
	Promises   []Promise   `json:"promises"`
	Objections []Objection `json:"objections"`
	Agreements []Agreement `json:"agreements"`
	Sentiment  Sentiment   `json:"sentiment"`

	// Keywords is a deduplicated set kept in first-seen order.
	Keywords  []string `json:"keywords"`
	KeyQuotes []string `json:"keyQuotes"`
}

// TotalPromised sums the amounts of all promises, treating a missing amount as 0.
func (e Extraction) TotalPromised() float64 {
	var total float64
	for _, p := range e.Promises {
		total += p.AmountOrZero()
	}
	return total
}

// Clone returns a deep copy of e so callers can hand snapshots across
// goroutines without sharing backing arrays.
func (e Extraction) Clone() Extraction {
	out := Extraction{Sentiment: e.Sentiment}
	out.Promises = append([]Promise(nil), e.Promises...)
	out.Objections = append([]Objection(nil), e.Objections...)
	out.Agreements = append([]Agreement(nil), e.Agreements...)
	out.Keywords = append([]string(nil), e.Keywords...)
	out.KeyQuotes = append([]string(nil), e.KeyQuotes...)
	return out
}

// ErrInvalidCustomer is returned by [Customer.Validate] for unusable input.
var ErrInvalidCustomer = errors.New("invalid customer")

// Customer is the debtor a call is placed to.
type Customer struct {
	ID            string  `json:"id,omitempty"`
	Name          string  `json:"name"`
	Phone         string  `json:"phone,omitempty"`
	AccountNumber string  `json:"accountNumber,omitempty"`
	DebtAmount    float64 `json:"debtAmount"`
	Currency      string  `json:"currency,omitempty"`
}

// Validate rejects customers that cannot start a call. All problems are
// reported together.
func (c Customer) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.DebtAmount < 0 {
		errs = append(errs, errors.New("debt amount must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidCustomer}, errs...)...)
}

// CallStatus is the lifecycle state of a call. Transitions are one-way:
// active to completed, or active to cancelled.
type CallStatus string

const (
	CallActive    CallStatus = "active"
	CallCompleted CallStatus = "completed"
	CallCancelled CallStatus = "cancelled"
)

// SummarySource records which path produced a [Summary].
type SummarySource string

const (
	SummaryFromAI       SummarySource = "ai"
	SummaryFromFallback SummarySource = "fallback"
	SummaryMinimal      SummarySource = "minimal"
)

// Summary is the end-of-call summary and recommended follow-ups.
type Summary struct {
	Text        string        `json:"text"`
	NextActions []string      `json:"nextActions"`
	Source      SummarySource `json:"source"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

// Call is the session aggregate for one collection call.
type Call struct {
	ID        string     `json:"id"`
	Customer  Customer   `json:"customer"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	// Duration is a monotonic counter in seconds, advanced by the ticker.
	Duration   int               `json:"duration"`
	Status     CallStatus        `json:"status"`
	Transcript []TranscriptEntry `json:"transcript"`
	Extraction Extraction        `json:"extraction"`
	Summary    *Summary          `json:"summary,omitempty"`
}

// TranscriptText joins all final entries with single spaces.
func (c *Call) TranscriptText() string {
	var b strings.Builder
	for i, e := range c.Transcript {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.Text)
	}
	return b.String()
}

// Clone returns a deep copy of c.
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	out := *c
	if c.EndTime != nil {
		t := *c.EndTime
		out.EndTime = &t
	}
	out.Transcript = append([]TranscriptEntry(nil), c.Transcript...)
	out.Extraction = c.Extraction.Clone()
	if c.Summary != nil {
		s := *c.Summary
		s.NextActions = append([]string(nil), c.Summary.NextActions...)
		out.Summary = &s
	}
	return &out
}

// CallHistoryItem is the immutable projection of a completed call.
type CallHistoryItem struct {
	ID                  string            `json:"id"`
	Customer            Customer          `json:"customer"`
	StartTime           time.Time         `json:"startTime"`
	EndTime             time.Time         `json:"endTime"`
	Duration            int               `json:"duration"`
	Sentiment           Sentiment         `json:"sentiment"`
	PromiseCount        int               `json:"promiseCount"`
	TotalPromisedAmount float64           `json:"totalPromisedAmount"`
	SummaryText         string            `json:"summaryText"`
	NextActions         []string          `json:"nextActions"`
	TranscriptText      string            `json:"transcriptText"`
	Transcript          []TranscriptEntry `json:"transcript,omitempty"`
	Extraction          Extraction        `json:"extraction"`
}

// SuggestionType categorises a coaching suggestion.
type SuggestionType string

const (
	SuggestionDeEscalation SuggestionType = "de_escalation"
	SuggestionEmpathy      SuggestionType = "empathy"
	SuggestionClosing      SuggestionType = "closing"
	SuggestionVerification SuggestionType = "verification"
	SuggestionRapport      SuggestionType = "rapport"
	SuggestionNegotiation  SuggestionType = "negotiation"
	SuggestionInformation  SuggestionType = "information"
)

// Suggestion is one coaching hint shown to the agent during a call.
type Suggestion struct {
	ID               string         `json:"id"`
	Type             SuggestionType `json:"type"`
	Priority         Severity       `json:"priority"`
	Title            string         `json:"title"`
	LocalizedTitle   string         `json:"localizedTitle"`
	Description      string         `json:"description"`
	Phrases          []string       `json:"phrases"`
	LocalizedPhrases []string       `json:"localizedPhrases"`
}

// Message is a single turn sent to an LLM.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role    string
	Content string
}

// ModelCapabilities describes static properties of an LLM backend.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int

	// SupportsStructuredOutput reports whether the backend honours a JSON
	// schema response format natively. When false, callers still decode the
	// reply leniently.
	SupportsStructuredOutput bool
	SupportsStreaming        bool
}
