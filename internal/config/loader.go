package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 35 * time.Second
	DefaultHistoryPath     = "callcoach-history.json"
	DefaultLanguage        = "en"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults. Negative
// values are left alone so that [Validate] can report them.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	c := &cfg.Coaching
	if c.MinChars == 0 {
		c.MinChars = 20
	}
	if c.DirtyThreshold == 0 {
		c.DirtyThreshold = 50
	}
	if c.Debounce == 0 {
		c.Debounce = time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Temperature == 0 {
		c.Temperature = 0.4
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = 5
	}
	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = 30 * time.Second
	}

	s := &cfg.Summary
	if s.MinChars == 0 {
		s.MinChars = 10
	}
	if s.MaxActions == 0 {
		s.MaxActions = 5
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.Temperature == 0 {
		s.Temperature = 0.3
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = HistoryFile
	}
	if cfg.History.Backend == HistoryFile && cfg.History.Path == "" {
		cfg.History.Path = DefaultHistoryPath
	}

	if cfg.Lexicon.Language == "" {
		cfg.Lexicon.Language = DefaultLanguage
	}
	if c.Language == "" {
		c.Language = cfg.Lexicon.Language
	}

	e := &cfg.Extraction
	if e.KeyQuoteLimit == 0 {
		e.KeyQuoteLimit = 10
	}
	if e.ExcerptLength == 0 {
		e.ExcerptLength = 100
	}
	if e.QuoteLength == 0 {
		e.QuoteLength = 150
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm to be configured"))
		} else {
			slog.Warn("no LLM provider configured; coaching and summaries will use local rules only")
		}
	}

	// Coaching
	c := cfg.Coaching
	if c.MinChars < 0 {
		errs = append(errs, fmt.Errorf("coaching.min_chars %d must not be negative", c.MinChars))
	}
	if c.DirtyThreshold < 0 {
		errs = append(errs, fmt.Errorf("coaching.dirty_threshold %d must not be negative", c.DirtyThreshold))
	}
	if c.Debounce < 0 || c.Timeout < 0 || c.Cooldown < 0 {
		errs = append(errs, errors.New("coaching durations must not be negative"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("coaching.temperature %.2f is out of range [0, 2]", c.Temperature))
	}
	if c.Breaker.MaxFailures < 0 || c.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("coaching.breaker values must not be negative"))
	}

	// Summary
	s := cfg.Summary
	if s.MinChars < 0 {
		errs = append(errs, fmt.Errorf("summary.min_chars %d must not be negative", s.MinChars))
	}
	if s.MaxActions < 0 {
		errs = append(errs, fmt.Errorf("summary.max_actions %d must not be negative", s.MaxActions))
	}
	if s.Timeout < 0 {
		errs = append(errs, fmt.Errorf("summary.timeout %s must not be negative", s.Timeout))
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Errorf("summary.temperature %.2f is out of range [0, 2]", s.Temperature))
	}

	// History
	h := cfg.History
	if h.Backend != "" && !h.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: file, postgres, memory", h.Backend))
	}
	if h.Backend == HistoryPostgres && h.PostgresDSN == "" {
		errs = append(errs, errors.New("history.postgres_dsn is required when backend is postgres"))
	}
	if h.MaxItems < 0 {
		errs = append(errs, fmt.Errorf("history.max_items %d must not be negative", h.MaxItems))
	}
	if h.Backend == HistoryMemory {
		slog.Warn("history.backend is memory; call history will be lost on restart")
	}

	// Extraction
	e := cfg.Extraction
	if e.KeyQuoteLimit < 0 || e.ExcerptLength < 0 || e.QuoteLength < 0 {
		errs = append(errs, errors.New("extraction limits must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
