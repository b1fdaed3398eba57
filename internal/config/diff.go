package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CoachingChanged is true when the gate's tuning knobs changed.
	CoachingChanged bool
	NewCoaching     CoachingConfig

	// RestartRequired lists the sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Coaching, new.Coaching
	if oc.MinChars != nc.MinChars || oc.DirtyThreshold != nc.DirtyThreshold || oc.Debounce != nc.Debounce {
		d.CoachingChanged = true
		d.NewCoaching = nc
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providerEqual(old.Providers.LLM, new.Providers.LLM) || len(old.Providers.LLMFallbacks) != len(new.Providers.LLMFallbacks) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	} else {
		for i := range old.Providers.LLMFallbacks {
			if !providerEqual(old.Providers.LLMFallbacks[i], new.Providers.LLMFallbacks[i]) {
				d.RestartRequired = append(d.RestartRequired, "providers")
				break
			}
		}
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if old.Lexicon != new.Lexicon {
		d.RestartRequired = append(d.RestartRequired, "lexicon")
	}
	if old.Summary != new.Summary {
		d.RestartRequired = append(d.RestartRequired, "summary")
	}
	if old.Extraction != new.Extraction {
		d.RestartRequired = append(d.RestartRequired, "extraction")
	}
	if oc.Timeout != nc.Timeout || oc.Cooldown != nc.Cooldown || oc.Temperature != nc.Temperature ||
		oc.Language != nc.Language || oc.Breaker != nc.Breaker || oc.Disabled != nc.Disabled {
		d.RestartRequired = append(d.RestartRequired, "coaching")
	}

	return d
}

// providerEqual compares entries ignoring Options, which is not comparable.
func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
