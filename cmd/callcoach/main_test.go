package main

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/MrWong99/callcoach/internal/config"
	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/provider/llm/mock"
)

func TestSlogLevel(t *testing.T) {
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestApplyReload_LogLevel(t *testing.T) {
	var level slog.LevelVar
	applyReload(&level, nil, config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogDebug})
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	// Coaching changes without an application are ignored.
	applyReload(&level, nil, config.ConfigDiff{CoachingChanged: true, RestartRequired: []string{"history"}})
}

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	names := reg.LLMNames()
	for _, want := range config.ValidProviderNames["llm"] {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("provider %q not registered", want)
		}
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}); err == nil {
		t.Error("openai without api key should fail")
	}
}

func TestBuildProviders(t *testing.T) {
	reg := config.NewRegistry()
	primary := &mock.Provider{}
	reg.RegisterLLM("primary", func(config.ProviderEntry) (llm.Provider, error) { return primary, nil })
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) { return nil, errors.New("no key") })

	t.Run("none configured", func(t *testing.T) {
		ps, err := buildProviders(&config.Config{}, reg)
		if err != nil || ps.LLM.Provider != nil {
			t.Errorf("buildProviders = %+v, %v", ps, err)
		}
	})

	t.Run("broken fallback skipped", func(t *testing.T) {
		cfg := &config.Config{Providers: config.ProvidersConfig{
			LLM:          config.ProviderEntry{Name: "primary"},
			LLMFallbacks: []config.ProviderEntry{{Name: "broken"}, {Name: "primary"}},
		}}
		ps, err := buildProviders(cfg, reg)
		if err != nil {
			t.Fatalf("buildProviders: %v", err)
		}
		if ps.LLM.Name != "primary" || len(ps.Fallbacks) != 1 {
			t.Errorf("providers = %+v", ps)
		}
	})

	t.Run("broken primary fails", func(t *testing.T) {
		cfg := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "broken"}}}
		if _, err := buildProviders(cfg, reg); err == nil {
			t.Error("expected error")
		}
	})
}

func TestOptString(t *testing.T) {
	opts := map[string]any{"organization": "org-1", "n": 3}
	if got := optString(opts, "organization"); got != "org-1" {
		t.Errorf("got %q", got)
	}
	if got := optString(opts, "n"); got != "" {
		t.Errorf("non-string = %q, want empty", got)
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("nil map = %q", got)
	}
}
