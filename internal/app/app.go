// Package app wires the call assistant subsystems into a running application.
//
// [App] owns the full lifecycle: New creates and connects all subsystems, Run
// executes the session [Controller] until the context is cancelled, and
// Shutdown releases external resources in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithMetrics, WithLexicon). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callcoach/internal/coaching"
	"github.com/MrWong99/callcoach/internal/config"
	"github.com/MrWong99/callcoach/internal/extraction"
	"github.com/MrWong99/callcoach/internal/health"
	"github.com/MrWong99/callcoach/internal/history"
	"github.com/MrWong99/callcoach/internal/lexicon"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/resilience"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/summary"
	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/types"
)

// NamedLLM is a model backend together with its registry name.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the model backends built by main.go via the config
// registry. A nil primary means no model is configured; coaching and
// summaries then use the rule-based fallbacks only.
type Providers struct {
	LLM       NamedLLM
	Fallbacks []NamedLLM
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics *observe.Metrics
	lex     *lexicon.Lexicon
	store   history.Store
	ctrl    *Controller
	health  *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLexicon injects a compiled lexicon instead of loading one from config.
func WithLexicon(l *lexicon.Lexicon) Option {
	return func(a *App) { a.lex = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers may be nil.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Lexicon ───────────────────────────────────────────────────────
	if err := a.initLexicon(); err != nil {
		return nil, fmt.Errorf("app: init lexicon: %w", err)
	}

	// ── 2. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Model backends, coaching and summary ──────────────────────────
	client, err := a.buildCoachingClient()
	if err != nil {
		return nil, fmt.Errorf("app: init coaching: %w", err)
	}
	orch, err := summary.New(a.buildChain("summary"), a.lex,
		summary.WithMinChars(cfg.Summary.MinChars),
		summary.WithMaxActions(cfg.Summary.MaxActions),
		summary.WithTimeout(cfg.Summary.Timeout),
		summary.WithTemperature(cfg.Summary.Temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init summary: %w", err)
	}

	// ── 4. Controller ────────────────────────────────────────────────────
	cc := cfg.Coaching
	ctrl, err := NewController(ControllerConfig{
		Engine: extraction.New(a.lex,
			extraction.WithExcerptLength(cfg.Extraction.ExcerptLength),
			extraction.WithQuoteLength(cfg.Extraction.QuoteLength),
		),
		Coaching: client,
		GateOptions: []coaching.GateOption{
			coaching.WithMinChars(cc.MinChars),
			coaching.WithDirtyThreshold(cc.DirtyThreshold),
			coaching.WithDebounce(cc.Debounce),
			coaching.WithTimeout(cc.Timeout),
			coaching.WithCooldown(cc.Cooldown),
			coaching.WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{
				Name:          "coaching",
				MaxFailures:   cc.Breaker.MaxFailures,
				ResetTimeout:  cc.Breaker.ResetTimeout,
				OnStateChange: logBreaker,
			})),
		},
		Summary: orch,
		Store:   &meteredStore{Store: a.store, metrics: a.metrics},
		SessionOptions: []session.Option{
			session.WithKeyQuoteLimit(cfg.Extraction.KeyQuoteLimit),
			session.WithMaxHistory(cfg.History.MaxItems),
		},
		Language: cc.Language,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.ctrl = ctrl

	// ── 5. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.healthCheckers()...)

	slog.Info("app initialised",
		"history_backend", cfg.History.Backend,
		"languages", a.lex.Languages(),
		"llm", providers.LLM.Name,
		"llm_fallbacks", len(providers.Fallbacks),
	)
	return a, nil
}

func (a *App) initLexicon() error {
	if a.lex != nil {
		return nil
	}
	var err error
	if f := a.cfg.Lexicon.File; f != "" {
		a.lex, err = lexicon.Load(f, a.cfg.Lexicon.Language)
	} else {
		a.lex, err = lexicon.Default(a.cfg.Lexicon.Language)
	}
	return err
}

// initHistory creates the configured history backend or keeps an injected one.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	hc := a.cfg.History
	switch hc.Backend {
	case config.HistoryMemory:
		a.store = history.NewMemStore()
	case config.HistoryPostgres:
		pool, err := pgxpool.New(ctx, hc.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		pg := history.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
		a.store = pg
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
	default:
		fs := history.NewFileStore(hc.Path)
		slog.Debug("history file store", "path", fs.Path())
		a.store = fs
	}
	return nil
}

// buildChain returns the model backends in failover order, each instrumented
// for purpose, or nil when no model is configured.
func (a *App) buildChain(purpose string) llm.Provider {
	primary := a.providers.LLM
	if primary.Provider == nil {
		return nil
	}
	bc := resilience.BreakerConfig{
		MaxFailures:   a.cfg.Coaching.Breaker.MaxFailures,
		ResetTimeout:  a.cfg.Coaching.Breaker.ResetTimeout,
		OnStateChange: logBreaker,
	}
	chain := resilience.NewLLMChain(observe.InstrumentLLM(primary.Provider, primary.Name, purpose, a.metrics), primary.Name, bc)
	for _, fb := range a.providers.Fallbacks {
		if fb.Provider == nil {
			continue
		}
		chain.Add(fb.Name, observe.InstrumentLLM(fb.Provider, fb.Name, purpose, a.metrics))
	}
	return chain
}

func (a *App) buildCoachingClient() (coaching.Client, error) {
	if a.cfg.Coaching.Disabled {
		slog.Info("remote coaching disabled, using rule-based suggestions")
		return nil, nil
	}
	p := a.buildChain("coaching")
	if p == nil {
		return nil, nil
	}
	return coaching.NewLLMClient(p, a.cfg.Coaching.Temperature)
}

func (a *App) healthCheckers() []health.Checker {
	checks := []health.Checker{
		{Name: "controller", Check: func(context.Context) error {
			if !a.ctrl.Running() {
				return errors.New("event loop not running")
			}
			return nil
		}},
		{Name: "history", Optional: true, Check: func(context.Context) error {
			if a.ctrl.HistoryDegraded() {
				return errors.New("last load or save failed")
			}
			return nil
		}},
	}
	if a.providers.LLM.Provider == nil {
		checks = append(checks, health.Checker{Name: "llm", Optional: true, Check: func(context.Context) error {
			return errors.New("no model configured, using fallbacks")
		}})
	}
	return checks
}

func logBreaker(name string, from, to resilience.State) {
	slog.Warn("circuit breaker state change", "name", name, "from", from, "to", to)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the session controller.
func (a *App) Controller() *Controller { return a.ctrl }

// Health returns the liveness and readiness handler.
func (a *App) Health() *health.Handler { return a.health }

// Metrics returns the metrics instruments.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run executes the session controller and blocks until ctx is cancelled and
// any active call has been archived.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running")
	if err := a.ctrl.Run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases external resources in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// meteredStore counts history saves by outcome.
type meteredStore struct {
	history.Store
	metrics *observe.Metrics
}

func (s *meteredStore) Save(ctx context.Context, items []types.CallHistoryItem) error {
	err := s.Store.Save(ctx, items)
	s.metrics.RecordHistoryWrite(ctx, err)
	return err
}
