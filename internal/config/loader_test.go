package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/jessy/internal/config"
)

const baseYAML = `
providers:
  llm:
    name: groq
    model: llama-3.1-8b-instant
responder:
  max_attempts: 3
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	return path
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("JESSY_PROVIDERS__LLM__API_KEY", "gsk-from-env")
	t.Setenv("JESSY_RESPONDER__MAX_ATTEMPTS", "5")
	t.Setenv("JESSY_RESPONDER__TIMEOUT", "12s")
	t.Setenv("JESSY_MEMORY__BACKEND", "redis")
	t.Setenv("JESSY_MEMORY__REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Providers.LLM.APIKey != "gsk-from-env" {
		t.Errorf("api_key: got %q, want gsk-from-env", cfg.Providers.LLM.APIKey)
	}
	if cfg.Providers.LLM.Model != "llama-3.1-8b-instant" {
		t.Errorf("model from file lost: got %q", cfg.Providers.LLM.Model)
	}
	if cfg.Responder.MaxAttempts != 5 {
		t.Errorf("max_attempts: got %d, want 5", cfg.Responder.MaxAttempts)
	}
	if cfg.Responder.Timeout != 12*time.Second {
		t.Errorf("timeout: got %s, want 12s", cfg.Responder.Timeout)
	}
	if cfg.Memory.Backend != config.MemoryRedis || cfg.Memory.RedisAddr != "localhost:6379" {
		t.Errorf("memory: got %+v", cfg.Memory)
	}
}

func TestLoad_DotEnvBesideConfig(t *testing.T) {
	t.Setenv("JESSY_SERVER__LISTEN_ADDR", ":7000")

	path := writeConfig(t, baseYAML)
	dotenv := "JESSY_PROVIDERS__LLM__API_KEY=gsk-dotenv\nJESSY_SERVER__LISTEN_ADDR=:6000\nUNRELATED=1\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte(dotenv), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "gsk-dotenv" {
		t.Errorf("api_key: got %q, want gsk-dotenv", cfg.Providers.LLM.APIKey)
	}
	// The real environment wins over .env.
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listen_addr: got %q, want :7000", cfg.Server.ListenAddr)
	}
}

func TestLoad_EnvCanMakeConfigInvalid(t *testing.T) {
	t.Setenv("JESSY_SERVER__LOG_LEVEL", "chatty")

	if _, err := config.Load(writeConfig(t, baseYAML)); err == nil {
		t.Fatal("expected validation error from env override, got nil")
	}
}

func TestApplyEnv_NoVariablesLeavesConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Server: config.ServerConfig{ListenAddr: ":1234"}}
	if err := config.ApplyEnv(cfg, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":1234" {
		t.Errorf("listen_addr changed to %q", cfg.Server.ListenAddr)
	}
}
