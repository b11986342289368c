package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/jessy/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "groq", Options: map[string]any{"timeout": "30s"}},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.ResponderChanged || d.ConfidenceChanged {
		t.Errorf("expected no hot changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart keys, got %v", d.RestartRequired)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	old, cur := baseConfig(), baseConfig()
	cur.Server.LogLevel = config.LogDebug
	cur.Responder.Persona = "You are a pirate."
	cur.Responder.Timeout = 10 * time.Second
	cur.Capture.ConfidenceThreshold = 0.5

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: got %+v", d)
	}
	if !d.ResponderChanged || d.Responder.Persona != "You are a pirate." || d.Responder.Timeout != 10*time.Second {
		t.Errorf("responder: got %+v", d.Responder)
	}
	if !d.ConfidenceChanged || d.NewConfidence != 0.5 {
		t.Errorf("confidence: got %v/%v", d.ConfidenceChanged, d.NewConfidence)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("hot changes should not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, cur := baseConfig(), baseConfig()
	cur.Server.ListenAddr = ":9000"
	cur.Providers.LLM.Options = map[string]any{"timeout": "60s"}
	cur.Memory.Backend = config.MemoryRedis
	cur.Capture.MaxDuration = time.Minute

	d := config.Diff(old, cur)
	want := []string{"server.listen_addr", "providers", "memory", "capture"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged || d.ResponderChanged || d.ConfidenceChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}

func TestDiff_FallbackListChange(t *testing.T) {
	t.Parallel()

	old, cur := baseConfig(), baseConfig()
	cur.Providers.TTSFallbacks = []config.ProviderEntry{{Name: "coqui"}}

	d := config.Diff(old, cur)
	if !slices.Contains(d.RestartRequired, "providers") {
		t.Errorf("fallback change not detected: %v", d.RestartRequired)
	}
}
