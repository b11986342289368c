package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override file values.
// JESSY_PROVIDERS__LLM__API_KEY sets providers.llm.api_key: a double
// underscore separates levels, single underscores stay part of the key.
const EnvPrefix = "JESSY_"

// ValidProviderNames lists known provider names per kind. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm": {"groq", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "llamacpp", "llamafile"},
	"stt": {"whisper-cli", "whisper"},
	"tts": {"piper", "coqui", "none"},
}

// Load reads the YAML file at path, overlays a .env file in the same
// directory and then the process environment, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	return loadBytes(path, data)
}

// loadBytes runs the full pipeline on the already-read contents of path.
func loadBytes(path string, data []byte) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg, filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates it. The environment is not consulted, which keeps tests
// hermetic.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := newConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays JESSY_* variables onto cfg. Values from dotenvPath, if
// the file exists, are applied first; real environment variables win.
func ApplyEnv(cfg *Config, dotenvPath string) error {
	k := koanf.New(".")

	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			dk := koanf.New(".")
			if err := dk.Load(file.Provider(dotenvPath), dotenv.Parser()); err != nil {
				return fmt.Errorf("config: load %q: %w", dotenvPath, err)
			}
			for name, val := range dk.All() {
				if key := envKey(name); key != "" {
					if err := k.Set(key, val); err != nil {
						return fmt.Errorf("config: apply %s: %w", name, err)
					}
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	if len(k.Keys()) == 0 {
		return nil
	}

	slog.Debug("config: applying environment overrides", "keys", sortedKeys(k.Keys()))
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return fmt.Errorf("config: apply env overrides: %w", err)
	}
	return nil
}

// envKey maps JESSY_SECTION__SOME_KEY to section.some_key. Names without the
// prefix map to "" and are skipped.
func envKey(name string) string {
	if !strings.HasPrefix(name, EnvPrefix) {
		return ""
	}
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(name, "__", ".")
}

func sortedKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return out
}

// Validate checks that cfg is coherent. It returns a joined error listing
// every failure and logs warnings for suspicious but usable values.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}

	m := cfg.Memory
	if m.Backend != "" && !m.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: memory, postgres, redis", m.Backend))
	}
	if m.Backend == MemoryPostgres && m.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required when memory.backend is postgres"))
	}
	if m.Backend == MemoryRedis && m.RedisAddr == "" {
		errs = append(errs, errors.New("memory.redis_addr is required when memory.backend is redis"))
	}
	if m.RedisTTL < 0 {
		errs = append(errs, fmt.Errorf("memory.redis_ttl %s must not be negative", m.RedisTTL))
	}
	if m.Backend == MemoryInProcess {
		slog.Warn("memory.backend is memory; conversation history is lost on restart")
	}

	r := cfg.Responder
	if r.Temperature < 0 || r.Temperature > 2 {
		errs = append(errs, fmt.Errorf("responder.temperature %.2f is out of range [0, 2]", r.Temperature))
	}
	if r.ContextTurns < 0 {
		errs = append(errs, fmt.Errorf("responder.context_turns %d must not be negative", r.ContextTurns))
	}
	if r.MaxAttempts < 0 || r.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("responder.max_attempts %d is out of range [1, 10]", r.MaxAttempts))
	}
	if r.Timeout < 0 {
		errs = append(errs, fmt.Errorf("responder.timeout %s must not be negative", r.Timeout))
	}

	c := cfg.Capture
	if c.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("capture.max_duration %s must not be negative", c.MaxDuration))
	}
	if c.QuietThreshold < 0 || c.QuietThreshold > 255 {
		errs = append(errs, fmt.Errorf("capture.quiet_threshold %d is out of range [0, 255]", c.QuietThreshold))
	}
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", c.SampleRate))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("capture.confidence_threshold %.2f is out of range [0, 1]", c.ConfidenceThreshold))
	}
	if c.PendingTTL < 0 {
		errs = append(errs, fmt.Errorf("capture.pending_ttl %s must not be negative", c.PendingTTL))
	}
	if c.PendingLimit < 0 {
		errs = append(errs, fmt.Errorf("capture.pending_limit %d must not be negative", c.PendingLimit))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and unknown for
// kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
