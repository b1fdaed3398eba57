// Package session owns the lifecycle of the single active collection call.
//
// [State] holds the active [types.Call] and the completed-call history. It
// enforces the one-way status machine (active to completed or cancelled) and
// the merge rules for partial extractions: list fields concatenate, keywords
// union, sentiment is replaced. Nothing is ever removed from an active call's
// extraction except by cancelling the whole call.
//
// State is not safe for concurrent use. It is owned by a single event loop
// which serialises every mutation.
package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/callcoach/pkg/types"
)

// DefaultKeyQuoteLimit is the number of most recent key quotes retained.
const DefaultKeyQuoteLimit = 10

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current lifecycle state, e.g. starting a call while one is active.
	ErrInvalidState = errors.New("session: invalid state")

	// ErrNoActiveCall is returned by operations that require an active call.
	ErrNoActiveCall = errors.New("session: no active call")

	// ErrEmptyText is returned when a transcript entry has no text.
	ErrEmptyText = errors.New("session: empty transcript text")
)

// State is the session aggregate: the active call plus history.
type State struct {
	active  *types.Call
	history []types.CallHistoryItem

	now        func() time.Time
	newID      func() string
	quoteLimit int
	maxHistory int
}

// Option is a functional option for [New].
type Option func(*State)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// WithIDFunc overrides the ID generator. Defaults to random UUIDs.
func WithIDFunc(fn func() string) Option {
	return func(s *State) { s.newID = fn }
}

// WithKeyQuoteLimit sets how many of the most recent key quotes are kept.
// Non-positive values are ignored.
func WithKeyQuoteLimit(n int) Option {
	return func(s *State) {
		if n > 0 {
			s.quoteLimit = n
		}
	}
}

// WithMaxHistory bounds the history length. Zero means unbounded.
func WithMaxHistory(n int) Option {
	return func(s *State) {
		if n >= 0 {
			s.maxHistory = n
		}
	}
}

// WithHistory seeds the history, most recent first, e.g. from a store loaded
// at startup.
func WithHistory(items []types.CallHistoryItem) Option {
	return func(s *State) { s.history = slices.Clone(items) }
}

// New creates an empty State.
func New(opts ...Option) *State {
	s := &State{
		now:        time.Now,
		newID:      uuid.NewString,
		quoteLimit: DefaultKeyQuoteLimit,
	}
	for _, o := range opts {
		o(s)
	}
	s.trimHistory()
	return s
}

// Start begins a new call for customer. It fails with [ErrInvalidState] if a
// call is already active and with [types.ErrInvalidCustomer] for unusable
// customer data; neither case mutates state.
func (s *State) Start(customer types.Customer) (*types.Call, error) {
	if s.active != nil {
		return nil, fmt.Errorf("%w: call %s is still active", ErrInvalidState, s.active.ID)
	}
	if err := customer.Validate(); err != nil {
		return nil, err
	}
	s.active = &types.Call{
		ID:        s.newID(),
		Customer:  customer,
		StartTime: s.now(),
		Status:    types.CallActive,
		Extraction: types.Extraction{
			Sentiment: types.NeutralSentiment,
		},
	}
	return s.active.Clone(), nil
}

// IsActive reports whether a call is in progress.
func (s *State) IsActive() bool {
	return s.active != nil && s.active.Status == types.CallActive
}

// Active returns a snapshot of the active call, or nil.
func (s *State) Active() *types.Call {
	if !s.IsActive() {
		return nil
	}
	return s.active.Clone()
}

// ActiveID returns the active call's ID, or "".
func (s *State) ActiveID() string {
	if !s.IsActive() {
		return ""
	}
	return s.active.ID
}

// TranscriptText returns the active call's transcript joined by spaces.
func (s *State) TranscriptText() string {
	if !s.IsActive() {
		return ""
	}
	return s.active.TranscriptText()
}

// AppendTranscript appends a final entry to the active call. Interim entries
// and calls without an active session are ignored. ok reports whether the
// entry was appended.
func (s *State) AppendTranscript(speaker types.Speaker, text string, timestamp int64, isFinal bool) (entry types.TranscriptEntry, ok bool) {
	if !s.IsActive() || !isFinal {
		return types.TranscriptEntry{}, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.TranscriptEntry{}, false
	}
	if !speaker.IsValid() {
		speaker = types.SpeakerCustomer
	}
	entry = types.TranscriptEntry{
		ID:        s.newID(),
		Speaker:   speaker,
		Text:      text,
		Timestamp: timestamp,
		IsFinal:   true,
	}
	s.active.Transcript = append(s.active.Transcript, entry)
	return entry, true
}

// ApplyExtraction merges a partial extraction into the active call. It
// returns false when no call is active.
func (s *State) ApplyExtraction(delta types.Extraction) bool {
	if !s.IsActive() {
		return false
	}
	ex := &s.active.Extraction
	ex.Promises = append(ex.Promises, delta.Promises...)
	ex.Objections = append(ex.Objections, delta.Objections...)
	ex.Agreements = append(ex.Agreements, delta.Agreements...)
	for _, kw := range delta.Keywords {
		if !slices.Contains(ex.Keywords, kw) {
			ex.Keywords = append(ex.Keywords, kw)
		}
	}
	ex.KeyQuotes = append(ex.KeyQuotes, delta.KeyQuotes...)
	if over := len(ex.KeyQuotes) - s.quoteLimit; over > 0 {
		ex.KeyQuotes = slices.Delete(ex.KeyQuotes, 0, over)
	}
	if delta.Sentiment.Label != "" {
		ex.Sentiment = delta.Sentiment
	}
	return true
}

// Duration returns the active call's duration in seconds, or 0.
func (s *State) Duration() int {
	if !s.IsActive() {
		return 0
	}
	return s.active.Duration
}

// Tick sets the active call's duration. It is a no-op once the call has left
// the active state.
func (s *State) Tick(seconds int) bool {
	if !s.IsActive() {
		return false
	}
	s.active.Duration = seconds
	return true
}

// Cancel drops the active call without recording history. Cancelling with no
// active call is a no-op and returns false.
func (s *State) Cancel() bool {
	if !s.IsActive() {
		return false
	}
	s.active.Status = types.CallCancelled
	s.active = nil
	return true
}

// Complete transitions the active call to completed, attaches summary, and
// archives the call as the newest history item.
func (s *State) Complete(summary *types.Summary) (*types.Call, types.CallHistoryItem, error) {
	if !s.IsActive() {
		return nil, types.CallHistoryItem{}, ErrNoActiveCall
	}
	call := s.active
	end := s.now()
	call.EndTime = &end
	call.Status = types.CallCompleted
	call.Summary = summary

	item := Project(call)
	s.history = slices.Insert(s.history, 0, item)
	s.trimHistory()
	s.active = nil
	return call.Clone(), item, nil
}

// History returns a copy of the history, most recent first.
func (s *State) History() []types.CallHistoryItem {
	return slices.Clone(s.history)
}

// ClearHistory removes every history item.
func (s *State) ClearHistory() {
	s.history = nil
}

// MergeHistory adds the items whose IDs are not already in the history after
// the existing ones. It is used when stored records arrive after calls have
// been completed in memory, which makes the existing items the newer ones.
// It returns the number of items added.
func (s *State) MergeHistory(items []types.CallHistoryItem) int {
	seen := make(map[string]bool, len(s.history))
	for _, it := range s.history {
		seen[it.ID] = true
	}
	added := 0
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		s.history = append(s.history, it)
		added++
	}
	s.trimHistory()
	return added
}

// DeleteHistory removes the item with id. It reports whether one was found.
func (s *State) DeleteHistory(id string) bool {
	i := slices.IndexFunc(s.history, func(it types.CallHistoryItem) bool { return it.ID == id })
	if i < 0 {
		return false
	}
	s.history = slices.Delete(s.history, i, i+1)
	return true
}

func (s *State) trimHistory() {
	if s.maxHistory > 0 && len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

// Project derives the immutable history record of a completed call.
func Project(call *types.Call) types.CallHistoryItem {
	item := types.CallHistoryItem{
		ID:                  call.ID,
		Customer:            call.Customer,
		StartTime:           call.StartTime,
		Duration:            call.Duration,
		Sentiment:           call.Extraction.Sentiment,
		PromiseCount:        len(call.Extraction.Promises),
		TotalPromisedAmount: call.Extraction.TotalPromised(),
		TranscriptText:      call.TranscriptText(),
		Transcript:          slices.Clone(call.Transcript),
		Extraction:          call.Extraction.Clone(),
	}
	if call.EndTime != nil {
		item.EndTime = *call.EndTime
	}
	if call.Summary != nil {
		item.SummaryText = call.Summary.Text
		item.NextActions = slices.Clone(call.Summary.NextActions)
	}
	return item
}
