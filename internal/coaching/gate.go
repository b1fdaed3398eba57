package coaching

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/MrWong99/callcoach/internal/lexicon"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/resilience"
	"github.com/MrWong99/callcoach/pkg/types"
)

// Default gate tuning.
const (
	DefaultMinChars       = 20
	DefaultDirtyThreshold = 50
	DefaultDebounce       = time.Second
	DefaultTimeout        = 15 * time.Second
)

// Outcome describes what a fetch attempt did.
type Outcome string

const (
	// OutcomeSuppressed means the transcript was below the content floor.
	OutcomeSuppressed Outcome = "suppressed"

	// OutcomeCached means the cached set was returned without a remote call,
	// either because a fetch was in flight or too little text was added.
	OutcomeCached Outcome = "cached"

	// OutcomeFetched means the remote capability returned fresh suggestions.
	OutcomeFetched Outcome = "fetched"

	// OutcomeFallback means the remote call failed and rule-based
	// suggestions were produced instead.
	OutcomeFallback Outcome = "fallback"

	// OutcomeStale means the gate was reset while the fetch was in flight and
	// its result was discarded.
	OutcomeStale Outcome = "stale"
)

// Result is delivered to the result handler after a debounced fetch.
type Result struct {
	// Generation is the gate generation the fetch was started in. A result
	// whose generation no longer matches [Gate.Generation] belongs to an
	// earlier call.
	Generation  uint64
	CallID      string
	Suggestions []types.Suggestion
	Outcome     Outcome
}

// Gate throttles, deduplicates and caches coaching requests for one call at a
// time. It is safe for concurrent use.
//
// A Gate lives for the whole process and is [Gate.Reset] between calls. Reset
// bumps the generation so that in-flight work started for the previous call
// can never leak into the next one.
type Gate struct {
	client   Client
	lex      *lexicon.Lexicon
	breaker  *resilience.Breaker
	limiter  *rate.Limiter
	onResult func(Result)

	mu             sync.Mutex
	minChars       int
	dirtyThreshold int
	debounce       time.Duration
	timeout        time.Duration

	generation uint64
	cached     []types.Suggestion
	fetched    bool // a successful fetch happened this generation
	lastLen    int  // transcript length at the last successful fetch
	inFlight   bool
	timer      *time.Timer
	timerSeq   uint64 // identifies the current timer
	pending    Request
}

// GateOption is a functional option for [NewGate].
type GateOption func(*Gate)

// WithMinChars sets the content floor below which no fetch is attempted.
func WithMinChars(n int) GateOption {
	return func(g *Gate) { g.minChars = n }
}

// WithDirtyThreshold sets how many characters the transcript must grow by
// since the last successful fetch before another remote call is made.
func WithDirtyThreshold(n int) GateOption {
	return func(g *Gate) { g.dirtyThreshold = n }
}

// WithDebounce sets the quiet period [Gate.Trigger] waits for.
func WithDebounce(d time.Duration) GateOption {
	return func(g *Gate) { g.debounce = d }
}

// WithTimeout bounds each remote call. Zero disables the bound.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.timeout = d }
}

// WithBreaker wraps remote calls in a circuit breaker. While the breaker is
// open fetches go straight to the fallback.
func WithBreaker(b *resilience.Breaker) GateOption {
	return func(g *Gate) { g.breaker = b }
}

// WithCooldown enforces a minimum interval between remote calls on top of the
// dirty-check. Zero disables it.
func WithCooldown(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.limiter = rate.NewLimiter(rate.Every(d), 1)
		} else {
			g.limiter = nil
		}
	}
}

// WithResultHandler registers fn to receive the outcome of debounced fetches.
// fn is called from a timer goroutine and must not block.
func WithResultHandler(fn func(Result)) GateOption {
	return func(g *Gate) { g.onResult = fn }
}

// NewGate creates a Gate around client. lex supplies the cue keywords for
// [Fallback].
func NewGate(client Client, lex *lexicon.Lexicon, opts ...GateOption) *Gate {
	g := &Gate{
		client:         client,
		lex:            lex,
		minChars:       DefaultMinChars,
		dirtyThreshold: DefaultDirtyThreshold,
		debounce:       DefaultDebounce,
		timeout:        DefaultTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Tune updates the thresholds at runtime, e.g. after a config reload.
// Non-positive values leave the current setting unchanged.
func (g *Gate) Tune(minChars, dirtyThreshold int, debounce time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if minChars > 0 {
		g.minChars = minChars
	}
	if dirtyThreshold > 0 {
		g.dirtyThreshold = dirtyThreshold
	}
	if debounce > 0 {
		g.debounce = debounce
	}
}

// Generation returns the current generation.
func (g *Gate) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// Cached returns the cached suggestion set. The slice is shared and must not
// be modified.
func (g *Gate) Cached() []types.Suggestion {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cached
}

// Trigger schedules a fetch for req after the debounce period. Triggers that
// arrive within the period replace the pending request and restart the timer,
// so a burst of transcript chunks results in a single fetch.
func (g *Gate) Trigger(ctx context.Context, req Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = req
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timerSeq++
	gen, seq := g.generation, g.timerSeq
	g.timer = time.AfterFunc(g.debounce, func() { g.fire(ctx, gen, seq) })
}

// fire runs when the timer numbered seq expires. A timer that was already
// firing when Trigger replaced it finds a newer seq and leaves the pending
// request to its replacement.
func (g *Gate) fire(ctx context.Context, gen, seq uint64) {
	g.mu.Lock()
	if gen != g.generation || seq != g.timerSeq {
		g.mu.Unlock()
		return
	}
	req := g.pending
	g.timer = nil
	g.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	sugs, outcome := g.Fetch(ctx, req)
	if outcome != OutcomeFetched && outcome != OutcomeFallback {
		return
	}
	if g.onResult != nil {
		g.onResult(Result{Generation: gen, CallID: req.CallID, Suggestions: sugs, Outcome: outcome})
	}
}

// Fetch applies the gate policy to req synchronously and returns the
// suggestions to show together with what happened. Remote failures never
// surface as errors; they produce [OutcomeFallback].
func (g *Gate) Fetch(ctx context.Context, req Request) ([]types.Suggestion, Outcome) {
	n := utf8.RuneCountInString(req.Transcript)

	g.mu.Lock()
	switch {
	case n < g.minChars:
		defer g.mu.Unlock()
		return g.cached, OutcomeSuppressed
	case g.inFlight:
		defer g.mu.Unlock()
		return g.cached, OutcomeCached
	case g.fetched && n-g.lastLen < g.dirtyThreshold:
		defer g.mu.Unlock()
		return g.cached, OutcomeCached
	case g.limiter != nil && !g.limiter.Allow():
		defer g.mu.Unlock()
		return g.cached, OutcomeCached
	}
	g.inFlight = true
	gen := g.generation
	timeout := g.timeout
	g.mu.Unlock()

	ctx = observe.WithCallID(ctx, req.CallID)
	sugs, err := g.call(ctx, req, timeout)
	outcome := OutcomeFetched
	if err != nil {
		observe.Logger(ctx).Warn("coaching: fetch failed, using fallback", "err", err)
		sugs = Fallback(g.lex, req.Transcript)
		outcome = OutcomeFallback
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.generation {
		return nil, OutcomeStale
	}
	g.inFlight = false
	g.cached = sugs
	if outcome == OutcomeFetched {
		g.fetched = true
		g.lastLen = n
	}
	return sugs, outcome
}

func (g *Gate) call(ctx context.Context, req Request, timeout time.Duration) ([]types.Suggestion, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var sugs []types.Suggestion
	fn := func(ctx context.Context) error {
		var err error
		sugs, err = g.client.Suggest(ctx, req)
		return err
	}
	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(ctx, fn)
	} else {
		err = fn(ctx)
	}
	return sugs, err
}

// Reset clears the cache and dirty-check state, cancels any pending debounced
// fetch, and starts a new generation. Fetches still in flight finish but their
// results are dropped.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	g.cached = nil
	g.fetched = false
	g.lastLen = 0
	g.inFlight = false
	g.pending = Request{}
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
