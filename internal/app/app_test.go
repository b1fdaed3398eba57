package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/callcoach/internal/app"
	"github.com/MrWong99/callcoach/internal/config"
	"github.com/MrWong99/callcoach/internal/history"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/callcoach/pkg/provider/llm/mock"
	"github.com/MrWong99/callcoach/pkg/types"
)

// testConfig returns a defaulted config with an in-memory history backend.
func testConfig() *config.Config {
	cfg := &config.Config{
		History: config.HistoryConfig{Backend: config.HistoryMemory},
	}
	config.ApplyDefaults(cfg)
	cfg.Coaching.Debounce = 5 * time.Millisecond
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// summaryModel answers summary requests and fails coaching requests.
func summaryModel() *llmmock.Provider {
	return &llmmock.Provider{CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if req.ResponseSchema != nil && req.ResponseSchema.Name == "call_summary" {
			return &llm.CompletionResponse{Content: `{"summary":"Customer agreed to pay on Friday.","nextActions":["Confirm payment"]}`}, nil
		}
		return nil, errors.New("coaching unavailable")
	}}
}

// runApp starts a.Run and stops it on cleanup.
func runApp(t *testing.T, a *app.App) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestNew_WithoutProviders(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if a.Controller() == nil || a.Health() == nil {
		t.Fatal("New() left subsystems nil")
	}

	// Without a running controller readiness fails.
	rec := httptest.NewRecorder()
	a.Health().Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before Run = %d, want 503", rec.Code)
	}

	runApp(t, a)
	deadline := time.Now().Add(2 * time.Second)
	for !a.Controller().Running() {
		if time.Now().After(deadline) {
			t.Fatal("controller never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	res := a.Health().Evaluate(context.Background())
	if res.Checks["controller"] != "ok" {
		t.Errorf("controller check = %q", res.Checks["controller"])
	}
	// No model configured degrades readiness without failing it.
	if res.Status != "degraded" {
		t.Errorf("status = %q, want degraded", res.Status)
	}
}

func TestNew_BadLexiconFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Lexicon.File = "/does/not/exist.yaml"
	if _, err := app.New(context.Background(), cfg, nil, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for missing lexicon file")
	}
}

func TestApp_SummaryUsesFallbackModel(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := summaryModel()
	store := history.NewMemStore()

	a, err := app.New(context.Background(), testConfig(), &app.Providers{
		LLM:       app.NamedLLM{Name: "openai", Provider: primary},
		Fallbacks: []app.NamedLLM{{Name: "ollama", Provider: secondary}},
	}, app.WithHistoryStore(store), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runApp(t, a)

	ctx := context.Background()
	ctrl := a.Controller()
	if _, err := ctrl.StartCall(ctx, types.Customer{Name: "Otieno Ouma", DebtAmount: 12000}); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := ctrl.Capture(ctx, "I promise I will pay KES 5,000 by Friday", true); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	call, err := ctrl.EndCall(ctx)
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if call.Summary.Source != types.SummaryFromAI {
		t.Fatalf("summary source = %q, want ai", call.Summary.Source)
	}
	if call.Summary.Text != "Customer agreed to pay on Friday." {
		t.Errorf("summary = %q", call.Summary.Text)
	}
	if len(primary.Calls()) == 0 {
		t.Error("primary model was never tried")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	// Idempotent.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestApp_ShutdownWithoutClosers(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// No closers for the memory backend, so an expired context is not an error.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown with no closers = %v, want nil", err)
	}
}
