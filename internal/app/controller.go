package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callcoach/internal/coaching"
	"github.com/MrWong99/callcoach/internal/extraction"
	"github.com/MrWong99/callcoach/internal/history"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/summary"
	"github.com/MrWong99/callcoach/pkg/types"
)

// ErrStopped is returned by controller operations once [Controller.Run] has
// returned.
var ErrStopped = errors.New("app: controller stopped")

// ErrInvalidSpeaker is returned for an unknown speaker tag.
var ErrInvalidSpeaker = errors.New("app: invalid speaker")

// ErrCallEnding is returned for operations on a call whose summary is being
// generated.
var ErrCallEnding = fmt.Errorf("%w: call is ending", session.ErrInvalidState)

const (
	tickInterval = time.Second

	// defaultHistoryRetry spaces reload attempts after the history failed to
	// load.
	defaultHistoryRetry = 30 * time.Second

	// defaultFinalizeTimeout bounds the summary of a call that is still
	// active when the controller stops.
	defaultFinalizeTimeout = 30 * time.Second

	subscriberBuffer = 64
)

// EventType names a UI push event.
type EventType string

const (
	EventCallStarted   EventType = "call_started"
	EventInterim       EventType = "interim"
	EventTranscript    EventType = "transcript"
	EventExtraction    EventType = "extraction"
	EventSuggestions   EventType = "suggestions"
	EventTick          EventType = "tick"
	EventCallEnding    EventType = "call_ending"
	EventCallCompleted EventType = "call_completed"
	EventCallCancelled EventType = "call_cancelled"
	EventHistory       EventType = "history"
)

// Event is pushed to subscribers whenever the visible state changes.
type Event struct {
	Type   EventType `json:"type"`
	CallID string    `json:"callId,omitempty"`
	Data   any       `json:"data,omitempty"`
}

// Snapshot is a consistent view of the controller state.
type Snapshot struct {
	Call            *types.Call        `json:"call,omitempty"`
	Interim         string             `json:"interim,omitempty"`
	Suggestions     []types.Suggestion `json:"suggestions"`
	Ending          bool               `json:"ending"`
	HistoryCount    int                `json:"historyCount"`
	HistoryDegraded bool               `json:"historyDegraded"`
}

// ControllerConfig holds the dependencies of a [Controller].
type ControllerConfig struct {
	// Engine analyses final transcript chunks. Required.
	Engine *extraction.Engine

	// Coaching is the remote suggestion capability. When nil every fetch
	// falls back to rule-based suggestions.
	Coaching coaching.Client

	// GateOptions tune the coaching gate. The result handler is set by the
	// controller.
	GateOptions []coaching.GateOption

	// Summary produces end-of-call summaries. Required.
	Summary *summary.Orchestrator

	// Store persists history. It is wrapped in a [history.Guard]. Defaults to
	// an in-memory store.
	Store history.Store

	// SessionOptions configure the session state, e.g. key quote and history
	// limits. History seeding is done by the controller.
	SessionOptions []session.Option

	// Language is the tag sent with coaching requests.
	Language string

	// Metrics receives pipeline metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// FinalizeTimeout bounds the summary of a call still active at shutdown.
	FinalizeTimeout time.Duration

	// HistoryRetry spaces reload attempts while the stored history could not
	// be loaded. Nothing is written to the store until a reload succeeds.
	HistoryRetry time.Duration

	// Now overrides the clock.
	Now func() time.Time
}

// Controller is the session controller. It owns the [session.State] and
// serialises every mutation through a single event loop: capture events,
// timer ticks and coaching results run one at a time, in arrival order.
//
// Exported methods are safe for concurrent use. They block until
// [Controller.Run] has started.
type Controller struct {
	engine   *extraction.Engine
	gate     *coaching.Gate
	summary  *summary.Orchestrator
	store    *history.Guard
	writer   *history.Writer
	metrics  *observe.Metrics
	language string
	finalize time.Duration
	retry    time.Duration
	now      func() time.Time

	sessionOpts []session.Option

	tasks   chan func()
	stopped chan struct{}
	running atomic.Bool

	// Loop-owned state.
	runCtx      context.Context
	state       *session.State
	interim     string
	suggestions []types.Suggestion
	ending      string // ID of the call being summarised

	// Set while the stored history is not loaded.
	reloading    bool
	lastReload   time.Time
	clearedEarly bool // history cleared before the stored records arrived

	subMu  sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
}

// NewController creates a Controller. Call [Controller.Run] to start it.
func NewController(cfg ControllerConfig) (*Controller, error) {
	var errs []error
	if cfg.Engine == nil {
		errs = append(errs, errors.New("engine is required"))
	}
	if cfg.Summary == nil {
		errs = append(errs, errors.New("summary orchestrator is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("app: new controller: %w", err)
	}

	if cfg.Coaching == nil {
		cfg.Coaching = noCoaching{}
	}
	if cfg.Store == nil {
		cfg.Store = history.NewMemStore()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	if cfg.HistoryRetry <= 0 {
		cfg.HistoryRetry = defaultHistoryRetry
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	guard := history.NewGuard(cfg.Store)
	c := &Controller{
		engine:      cfg.Engine,
		summary:     cfg.Summary,
		store:       guard,
		writer:      history.NewWriter(guard),
		metrics:     cfg.Metrics,
		language:    cfg.Language,
		finalize:    cfg.FinalizeTimeout,
		retry:       cfg.HistoryRetry,
		now:         cfg.Now,
		sessionOpts: cfg.SessionOptions,
		tasks:       make(chan func()),
		stopped:     make(chan struct{}),
		subs:        make(map[uint64]chan Event),
	}
	gateOpts := append(append([]coaching.GateOption(nil), cfg.GateOptions...), coaching.WithResultHandler(c.onCoachingResult))
	c.gate = coaching.NewGate(cfg.Coaching, cfg.Engine.Lexicon(), gateOpts...)
	return c, nil
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Run loads the history and processes events until ctx is cancelled. A call
// that is still active at that point is summarised and archived before Run
// returns. Run may only be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("app: controller already running")
	}
	defer close(c.stopped)

	items, _ := c.store.Load(ctx)
	c.state = session.New(append(c.sessionOpts, session.WithHistory(items))...)
	c.runCtx = ctx
	if c.store.Unloaded() {
		c.lastReload = time.Now()
	}
	slog.Info("controller running", "history", len(items), "history_loaded", !c.store.Unloaded())

	// The writer outlives ctx so that the final archive is persisted.
	wctx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	var g errgroup.Group
	g.Go(func() error { return c.writer.Run(wctx) })

	c.loop(ctx)
	c.shutdown(ctx)

	stopWriter()
	return g.Wait()
}

func (c *Controller) loop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-c.tasks:
			task()
		case <-ticker.C:
			c.tick()
		}
	}
}

// shutdown waits for an ending call to be archived and finalises a call that
// is still active.
func (c *Controller) shutdown(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.finalize)
	defer cancel()
	defer c.lastHistoryReload(fctx)

	for c.ending != "" {
		select {
		case task := <-c.tasks:
			task()
		case <-fctx.Done():
			slog.Warn("controller: gave up waiting for ending call", "call_id", c.ending)
			return
		}
	}

	if call := c.state.Active(); call != nil {
		slog.Info("controller: finalising active call on shutdown", "call_id", call.ID)
		c.gate.Reset()
		sum := c.summary.Summarise(fctx, call)
		c.complete(fctx, call.ID, sum)
	}
}

// lastHistoryReload makes a final attempt to load the stored history so that
// calls completed while it was unavailable are persisted with it.
func (c *Controller) lastHistoryReload(ctx context.Context) {
	if !c.store.Unloaded() {
		return
	}
	items, err := c.store.Reload(ctx)
	if err != nil {
		slog.Error("controller: history still unavailable at shutdown, completed calls are not persisted",
			"calls", len(c.state.History()), "err", err)
		return
	}
	c.adoptHistory(items)
}

// do runs fn on the event loop and waits for it to finish.
func (c *Controller) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case c.tasks <- task:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// Accepted tasks always run to completion.
	<-done
	return nil
}

// ── Subscriptions ────────────────────────────────────────────────────────────

// Subscribe registers for UI push events. Slow subscribers miss events
// rather than stalling the loop. The returned function unsubscribes and
// closes the channel.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()
	c.metrics.UIClients.Add(context.Background(), 1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
			c.metrics.UIClients.Add(context.Background(), -1)
		})
	}
}

func (c *Controller) publish(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("controller: subscriber too slow, dropping event", "subscriber", id, "type", ev.Type)
		}
	}
}

// ── Call lifecycle ───────────────────────────────────────────────────────────

// StartCall begins a call for customer.
func (c *Controller) StartCall(ctx context.Context, customer types.Customer) (*types.Call, error) {
	var (
		call *types.Call
		err  error
	)
	if derr := c.do(ctx, func() {
		if c.ending != "" {
			err = ErrCallEnding
			return
		}
		call, err = c.state.Start(customer)
		if err != nil {
			return
		}
		c.gate.Reset()
		c.interim = ""
		c.suggestions = nil
		c.metrics.ActiveCalls.Add(c.runCtx, 1)
		slog.Info("call started", "call_id", call.ID, "customer", customer.Name)
		c.publish(Event{Type: EventCallStarted, CallID: call.ID, Data: call})
	}); derr != nil {
		return nil, derr
	}
	return call, err
}

// Capture feeds one speech recognition event. Interim text is kept as a
// preview only; final text is appended to the transcript and analysed.
func (c *Controller) Capture(ctx context.Context, text string, isFinal bool) error {
	return c.ingest(ctx, types.SpeakerCustomer, text, isFinal)
}

// SubmitText appends typed or uploaded text as a final chunk.
func (c *Controller) SubmitText(ctx context.Context, speaker types.Speaker, text string) error {
	if speaker == "" {
		speaker = types.SpeakerCustomer
	}
	if !speaker.IsValid() {
		return fmt.Errorf("%w %q", ErrInvalidSpeaker, speaker)
	}
	return c.ingest(ctx, speaker, text, true)
}

func (c *Controller) ingest(ctx context.Context, speaker types.Speaker, text string, isFinal bool) error {
	text = strings.TrimSpace(text)
	if isFinal && text == "" {
		return session.ErrEmptyText
	}
	var err error
	if derr := c.do(ctx, func() { err = c.handleChunk(speaker, text, isFinal) }); derr != nil {
		return derr
	}
	return err
}

func (c *Controller) handleChunk(speaker types.Speaker, text string, isFinal bool) error {
	if c.ending != "" {
		return ErrCallEnding
	}
	call := c.state.Active()
	if call == nil {
		return session.ErrNoActiveCall
	}

	if !isFinal {
		c.interim = text
		c.publish(Event{Type: EventInterim, CallID: call.ID, Data: text})
		return nil
	}

	full := c.state.TranscriptText()
	entry, ok := c.state.AppendTranscript(speaker, text, c.now().UnixMilli(), true)
	if !ok {
		return session.ErrEmptyText
	}
	c.interim = ""

	delta, significant := c.engine.Analyze(entry.Text, full)
	c.state.ApplyExtraction(delta)

	ctx := c.runCtx
	c.metrics.ChunksAnalysed.Add(ctx, 1)
	c.metrics.RecordDetections(ctx, len(delta.Promises), len(delta.Objections), len(delta.Agreements))
	if significant {
		slog.Debug("significant content detected", "call_id", call.ID,
			"promises", len(delta.Promises), "objections", len(delta.Objections), "agreements", len(delta.Agreements))
	}

	c.publish(Event{Type: EventTranscript, CallID: call.ID, Data: entry})
	updated := c.state.Active()
	c.publish(Event{Type: EventExtraction, CallID: call.ID, Data: updated.Extraction})

	c.gate.Trigger(ctx, c.coachingRequest(updated, entry.Text))
	return nil
}

func (c *Controller) coachingRequest(call *types.Call, last string) coaching.Request {
	return coaching.Request{
		CallID:         call.ID,
		CustomerName:   call.Customer.Name,
		DebtAmount:     call.Customer.DebtAmount,
		Transcript:     call.TranscriptText(),
		LastStatement:  last,
		SentimentLabel: call.Extraction.Sentiment.Label,
		LanguageTag:    c.language,
	}
}

// onCoachingResult runs on a gate timer goroutine.
func (c *Controller) onCoachingResult(res coaching.Result) {
	c.metrics.RecordCoachingOutcome(context.Background(), string(res.Outcome))
	go func() {
		_ = c.do(context.Background(), func() { c.applySuggestions(res) })
	}()
}

func (c *Controller) applySuggestions(res coaching.Result) {
	if res.Generation != c.gate.Generation() || res.CallID != c.state.ActiveID() || c.ending != "" {
		slog.Debug("controller: dropping stale coaching result", "call_id", res.CallID)
		return
	}
	c.suggestions = res.Suggestions
	c.publish(Event{Type: EventSuggestions, CallID: res.CallID, Data: res.Suggestions})
}

// RefreshSuggestions runs the coaching gate synchronously for the active
// call and returns the suggestions to display.
func (c *Controller) RefreshSuggestions(ctx context.Context) ([]types.Suggestion, error) {
	var (
		req coaching.Request
		gen uint64
		err error
	)
	if derr := c.do(ctx, func() {
		call := c.state.Active()
		if call == nil || c.ending != "" {
			err = session.ErrNoActiveCall
			return
		}
		last := ""
		if n := len(call.Transcript); n > 0 {
			last = call.Transcript[n-1].Text
		}
		req = c.coachingRequest(call, last)
		gen = c.gate.Generation()
	}); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}

	sugs, outcome := c.gate.Fetch(ctx, req)
	c.metrics.RecordCoachingOutcome(ctx, string(outcome))
	if outcome == coaching.OutcomeFetched || outcome == coaching.OutcomeFallback {
		res := coaching.Result{Generation: gen, CallID: req.CallID, Suggestions: sugs, Outcome: outcome}
		_ = c.do(context.WithoutCancel(ctx), func() { c.applySuggestions(res) })
	}
	return sugs, nil
}

// CancelCall drops the active call without archiving it. It is a no-op when
// no call is active.
func (c *Controller) CancelCall(ctx context.Context) error {
	var err error
	if derr := c.do(ctx, func() {
		if c.ending != "" {
			err = ErrCallEnding
			return
		}
		id := c.state.ActiveID()
		if !c.state.Cancel() {
			return
		}
		c.gate.Reset()
		c.interim = ""
		c.suggestions = nil
		c.metrics.ActiveCalls.Add(c.runCtx, -1)
		slog.Info("call cancelled", "call_id", id)
		c.publish(Event{Type: EventCallCancelled, CallID: id})
	}); derr != nil {
		return derr
	}
	return err
}

// EndCall stops the active call, waits for its summary and archives it. The
// loop keeps serving other requests while the summary is generated; capture
// events for the ending call are rejected with [ErrCallEnding].
func (c *Controller) EndCall(ctx context.Context) (*types.Call, error) {
	var (
		call *types.Call
		err  error
	)
	if derr := c.do(ctx, func() {
		if c.ending != "" {
			err = ErrCallEnding
			return
		}
		call = c.state.Active()
		if call == nil {
			err = session.ErrNoActiveCall
			return
		}
		c.ending = call.ID
		c.gate.Reset()
		c.interim = ""
		c.publish(Event{Type: EventCallEnding, CallID: call.ID})
	}); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}

	// The summary is awaited even if the caller goes away.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.finalize)
	defer cancel()
	sum := c.summary.Summarise(sctx, call)

	var done *types.Call
	if derr := c.do(context.WithoutCancel(ctx), func() {
		done, err = c.complete(sctx, call.ID, sum)
	}); derr != nil {
		return nil, derr
	}
	return done, err
}

// complete archives the call with id. Runs on the loop.
func (c *Controller) complete(ctx context.Context, id string, sum *types.Summary) (*types.Call, error) {
	if c.ending == id {
		c.ending = ""
	}
	if c.state.ActiveID() != id {
		return nil, fmt.Errorf("%w: call %s is no longer active", session.ErrInvalidState, id)
	}
	done, _, err := c.state.Complete(sum)
	if err != nil {
		return nil, err
	}
	c.suggestions = nil
	c.metrics.ActiveCalls.Add(ctx, -1)
	c.metrics.RecordSummary(ctx, string(sum.Source))
	c.writer.Submit(c.state.History())
	c.retryHistoryLoad()

	slog.Info("call completed", "call_id", id, "duration", done.Duration,
		"promises", len(done.Extraction.Promises), "summary_source", sum.Source)
	c.publish(Event{Type: EventCallCompleted, CallID: id, Data: done})
	c.publish(Event{Type: EventHistory, Data: len(c.state.History())})
	return done, nil
}

// tick advances the active call's duration by one second.
func (c *Controller) tick() {
	c.retryHistoryLoad()
	if c.ending != "" || !c.state.IsActive() {
		return
	}
	d := c.state.Duration() + 1
	if c.state.Tick(d) {
		c.publish(Event{Type: EventTick, CallID: c.state.ActiveID(), Data: d})
	}
}

// retryHistoryLoad starts a background reload of the stored history when
// the last load failed and the retry interval has passed. Runs on the loop.
func (c *Controller) retryHistoryLoad() {
	if !c.store.Unloaded() || c.reloading || time.Since(c.lastReload) < c.retry {
		return
	}
	c.reloading = true
	c.lastReload = time.Now()

	ctx := c.runCtx
	go func() {
		items, err := c.store.Reload(ctx)
		_ = c.do(context.WithoutCancel(ctx), func() {
			c.reloading = false
			if err != nil {
				slog.Warn("controller: history still unavailable", "err", err)
				return
			}
			if c.store.Unloaded() {
				c.adoptHistory(items)
			}
		})
	}()
}

// adoptHistory merges stored records that arrived after a failed load into
// the session history and lets the writer persist the result. Runs on the
// loop.
func (c *Controller) adoptHistory(stored []types.CallHistoryItem) {
	added := 0
	if c.clearedEarly {
		slog.Info("controller: history was cleared before stored records loaded, discarding them", "stored", len(stored))
	} else {
		added = c.state.MergeHistory(stored)
	}
	c.clearedEarly = false
	c.writer.Replace(c.state.History(), c.store.Resume)

	slog.Info("controller: stored history recovered", "stored", len(stored), "added", added)
	c.publish(Event{Type: EventHistory, Data: len(c.state.History())})
}

// noCoaching is used when no model is configured.
type noCoaching struct{}

func (noCoaching) Suggest(context.Context, coaching.Request) ([]types.Suggestion, error) {
	return nil, errors.New("app: no coaching model configured")
}

// ── Queries ──────────────────────────────────────────────────────────────────

// Snapshot returns the current state.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func() {
		s = Snapshot{
			Call:            c.state.Active(),
			Interim:         c.interim,
			Suggestions:     append([]types.Suggestion(nil), c.suggestions...),
			Ending:          c.ending != "",
			HistoryCount:    len(c.state.History()),
			HistoryDegraded: c.store.IsDegraded(),
		}
	})
	return s, err
}

// Suggestions returns the suggestions currently displayed.
func (c *Controller) Suggestions(ctx context.Context) ([]types.Suggestion, error) {
	var out []types.Suggestion
	err := c.do(ctx, func() { out = append([]types.Suggestion(nil), c.suggestions...) })
	return out, err
}

// History returns the completed calls, most recent first.
func (c *Controller) History(ctx context.Context) ([]types.CallHistoryItem, error) {
	var out []types.CallHistoryItem
	err := c.do(ctx, func() { out = c.state.History() })
	return out, err
}

// HistoryItem returns the history item with id or [history.ErrNotFound].
func (c *Controller) HistoryItem(ctx context.Context, id string) (types.CallHistoryItem, error) {
	var (
		item types.CallHistoryItem
		err  error
	)
	if derr := c.do(ctx, func() { item, err = history.Find(c.state.History(), id) }); derr != nil {
		return item, derr
	}
	return item, err
}

// Stats aggregates the history.
func (c *Controller) Stats(ctx context.Context) (history.Stats, error) {
	var s history.Stats
	err := c.do(ctx, func() { s = history.Summarize(c.state.History()) })
	return s, err
}

// ClearHistory removes all history items.
func (c *Controller) ClearHistory(ctx context.Context) error {
	return c.do(ctx, func() {
		c.state.ClearHistory()
		if c.store.Unloaded() {
			c.clearedEarly = true
		}
		c.writer.Submit(c.state.History())
		slog.Info("history cleared")
		c.publish(Event{Type: EventHistory, Data: 0})
	})
}

// DeleteHistory removes the item with id or returns [history.ErrNotFound].
func (c *Controller) DeleteHistory(ctx context.Context, id string) error {
	var err error
	if derr := c.do(ctx, func() {
		if !c.state.DeleteHistory(id) {
			err = fmt.Errorf("%w: %s", history.ErrNotFound, id)
			return
		}
		c.writer.Submit(c.state.History())
		c.publish(Event{Type: EventHistory, Data: len(c.state.History())})
	}); derr != nil {
		return derr
	}
	return err
}

// HistoryDegraded reports whether the last history load or save failed.
func (c *Controller) HistoryDegraded() bool {
	return c.store.IsDegraded()
}

// Running reports whether the event loop is serving requests.
func (c *Controller) Running() bool {
	if !c.running.Load() {
		return false
	}
	select {
	case <-c.stopped:
		return false
	default:
		return true
	}
}

// Tune updates the coaching gate thresholds at runtime.
func (c *Controller) Tune(minChars, dirtyThreshold int, debounce time.Duration) {
	c.gate.Tune(minChars, dirtyThreshold, debounce)
}
