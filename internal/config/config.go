// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher for the Jessy voice service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// MemoryBackend selects the conversation store implementation.
type MemoryBackend string

const (
	// MemoryInProcess keeps the log in process memory. It is lost on restart.
	MemoryInProcess MemoryBackend = "memory"

	// MemoryPostgres stores turns in the chats table.
	MemoryPostgres MemoryBackend = "postgres"

	// MemoryRedis stores turns in a Redis list.
	MemoryRedis MemoryBackend = "redis"
)

// IsValid reports whether b is a recognised backend.
func (b MemoryBackend) IsValid() bool {
	switch b {
	case MemoryInProcess, MemoryPostgres, MemoryRedis:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Memory    MemoryConfig    `yaml:"memory"`
	Responder ResponderConfig `yaml:"responder"`
	Capture   CaptureConfig   `yaml:"capture"`
}

// ServerConfig holds network, logging and scratch-space settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TempDir receives uploads and synthesized audio. Defaults to the
	// system temp dir.
	TempDir string `yaml:"temp_dir"`

	// AllowedOrigins lists host patterns allowed to open the voice socket
	// cross-origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig selects the backend for each stage. Fallbacks are tried in
// order when the primary's circuit breaker is open or a call fails.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider types.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "groq", "whisper-cli").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted APIs.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model name, or a model file for local processes.
	Model string `yaml:"model"`

	// Options holds provider-specific values (binary paths, language, …).
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] formatted as a string, or def when the
// key is absent or empty.
func (e ProviderEntry) StringOption(key, def string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	if s == "" {
		return def
	}
	return s
}

// IntOption returns Options[key] as an int. Numeric strings are accepted so
// values overridden through the environment still parse.
func (e ProviderEntry) IntOption(key string, def int) (int, error) {
	switch v := e.Options[key].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("config: option %q: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("config: option %q: want integer, got %T", key, v)
	}
}

// FloatOption returns Options[key] as a float64.
func (e ProviderEntry) FloatOption(key string, def float64) (float64, error) {
	switch v := e.Options[key].(type) {
	case nil:
		return def, nil
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("config: option %q: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("config: option %q: want number, got %T", key, v)
	}
}

// BoolOption returns Options[key] as a bool.
func (e ProviderEntry) BoolOption(key string, def bool) (bool, error) {
	switch v := e.Options[key].(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("config: option %q: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("config: option %q: want bool, got %T", key, v)
	}
}

// DurationOption returns Options[key] parsed with [time.ParseDuration].
func (e ProviderEntry) DurationOption(key string, def time.Duration) (time.Duration, error) {
	switch v := e.Options[key].(type) {
	case nil:
		return def, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("config: option %q: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("config: option %q: want duration string, got %T", key, v)
	}
}

// MemoryConfig selects and configures the conversation store.
type MemoryConfig struct {
	Backend MemoryBackend `yaml:"backend"`

	// PostgresDSN is required for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisAddr is required for the redis backend.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`

	// RedisTTL drops the whole conversation after this long without a new
	// turn. Zero keeps it forever.
	RedisTTL time.Duration `yaml:"redis_ttl"`
}

// ResponderConfig tunes the conversational responder. Every field is
// hot-reloadable.
type ResponderConfig struct {
	Persona      string        `yaml:"persona"`
	Temperature  float64       `yaml:"temperature"`
	ContextTurns int           `yaml:"context_turns"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxTokens    int           `yaml:"max_tokens"`
}

// CaptureConfig tunes live capture and transcript gating.
type CaptureConfig struct {
	MaxDuration         time.Duration `yaml:"max_duration"`
	// QuietThreshold is the 0-255 peak level below which a clip is flagged
	// too quiet. An explicit 0 disables the advisory; omitted means 20.
	QuietThreshold      int           `yaml:"quiet_threshold"`
	SampleRate          int           `yaml:"sample_rate"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	PendingTTL          time.Duration `yaml:"pending_ttl"`
	PendingLimit        int           `yaml:"pending_limit"`
}

// newConfig returns a Config holding the defaults that cannot be told apart
// from an explicit zero after decoding.
func newConfig() *Config {
	return &Config{Capture: CaptureConfig{QuietThreshold: DefaultQuietThreshold}}
}

// Defaults.
const (
	DefaultListenAddr          = ":5000"
	DefaultLLMProvider         = "groq"
	DefaultSTTProvider         = "whisper-cli"
	DefaultTTSProvider         = "piper"
	DefaultRedisKey            = "jessy:chats"
	DefaultTemperature         = 0.7
	DefaultContextTurns        = 5
	DefaultMaxAttempts         = 3
	DefaultTimeout             = 30 * time.Second
	DefaultMaxDuration         = 15 * time.Second
	DefaultQuietThreshold      = 20
	DefaultSampleRate          = 16000
	DefaultConfidenceThreshold = 0.7
	DefaultPendingTTL          = 5 * time.Minute
	DefaultPendingLimit        = 1000
)

// ApplyDefaults fills zero fields with their defaults. Persona stays empty
// here; the responder supplies its built-in persona. Fields where zero is a
// valid setting are seeded by [newConfig] before decoding instead.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.TempDir == "" {
		c.Server.TempDir = os.TempDir()
	}
	if c.Providers.LLM.Name == "" {
		c.Providers.LLM.Name = DefaultLLMProvider
	}
	if c.Providers.STT.Name == "" {
		c.Providers.STT.Name = DefaultSTTProvider
	}
	if c.Providers.TTS.Name == "" {
		c.Providers.TTS.Name = DefaultTTSProvider
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = MemoryInProcess
	}
	if c.Memory.RedisKey == "" {
		c.Memory.RedisKey = DefaultRedisKey
	}
	r := &c.Responder
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
	if r.ContextTurns == 0 {
		r.ContextTurns = DefaultContextTurns
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultTimeout
	}
	cp := &c.Capture
	if cp.MaxDuration == 0 {
		cp.MaxDuration = DefaultMaxDuration
	}
	if cp.SampleRate == 0 {
		cp.SampleRate = DefaultSampleRate
	}
	if cp.ConfidenceThreshold == 0 {
		cp.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cp.PendingTTL == 0 {
		cp.PendingTTL = DefaultPendingTTL
	}
	if cp.PendingLimit == 0 {
		cp.PendingLimit = DefaultPendingLimit
	}
}
