package main

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/jessy/internal/app"
	"github.com/MrWong99/jessy/internal/config"
	"github.com/MrWong99/jessy/pkg/provider/llm"
	"github.com/MrWong99/jessy/pkg/provider/llm/anyllm"
	"github.com/MrWong99/jessy/pkg/provider/llm/openai"
	"github.com/MrWong99/jessy/pkg/provider/stt"
	"github.com/MrWong99/jessy/pkg/provider/stt/whisper"
	"github.com/MrWong99/jessy/pkg/provider/stt/whispercli"
	"github.com/MrWong99/jessy/pkg/provider/tts"
	"github.com/MrWong99/jessy/pkg/provider/tts/coqui"
	"github.com/MrWong99/jessy/pkg/provider/tts/piper"
)

const openAIBaseURL = "https://api.openai.com/v1"

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// groq and openai go through the OpenAI-compatible client; the key falls
	// back to the usual environment variable.
	reg.RegisterLLM("groq", func(e config.ProviderEntry) (llm.Provider, error) {
		return newOpenAICompatible(e, openai.GroqBaseURL, "GROQ_API_KEY")
	})
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		return newOpenAICompatible(e, openAIBaseURL, "OPENAI_API_KEY")
	})

	// The rest share the any-llm pattern: optional APIKey + optional BaseURL.
	for _, name := range []string{"anthropic", "gemini", "deepseek", "mistral", "ollama", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper-cli", func(e config.ProviderEntry) (stt.Provider, error) {
		threads, err := e.IntOption("threads", 0)
		if err != nil {
			return nil, err
		}
		gpu, err := e.BoolOption("gpu", false)
		if err != nil {
			return nil, err
		}
		opts := []whispercli.Option{
			whispercli.WithFFmpegPath(e.StringOption("ffmpeg", "ffmpeg")),
			whispercli.WithWhisperPath(e.StringOption("binary", "whisper-cli")),
			whispercli.WithGPU(gpu),
		}
		if lang := e.StringOption("language", ""); lang != "" {
			opts = append(opts, whispercli.WithLanguage(lang))
		}
		if threads > 0 {
			opts = append(opts, whispercli.WithThreads(threads))
		}
		if dir := e.StringOption("json_output_dir", ""); dir != "" {
			opts = append(opts, whispercli.WithOutputFile(dir))
		}
		return whispercli.New(e.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := e.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("piper", func(e config.ProviderEntry) (tts.Provider, error) {
		opts := []piper.Option{
			piper.WithBinary(e.StringOption("binary", "piper")),
			piper.WithOutputDir(e.StringOption("output_dir", "")),
		}
		if dir := e.StringOption("espeak_data", ""); dir != "" {
			opts = append(opts, piper.WithESpeakData(dir))
		}
		speaker, err := e.IntOption("speaker", -1)
		if err != nil {
			return nil, err
		}
		if speaker >= 0 {
			opts = append(opts, piper.WithSpeaker(speaker))
		}
		scale, err := e.FloatOption("length_scale", 0)
		if err != nil {
			return nil, err
		}
		if scale > 0 {
			opts = append(opts, piper.WithLengthScale(scale))
		}
		return piper.New(e.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		timeout, err := e.DurationOption("timeout", 0)
		if err != nil {
			return nil, err
		}
		opts := []coqui.Option{
			coqui.WithOutputDir(e.StringOption("output_dir", "")),
			coqui.WithAPIMode(coqui.APIMode(e.StringOption("api_mode", string(coqui.APIModeStandard)))),
		}
		if lang := e.StringOption("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if sp := e.StringOption("speaker", ""); sp != "" {
			opts = append(opts, coqui.WithSpeaker(sp))
		}
		if timeout > 0 {
			opts = append(opts, coqui.WithTimeout(timeout))
		}
		return coqui.New(e.BaseURL, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func newOpenAICompatible(e config.ProviderEntry, defaultBaseURL, keyEnv string) (llm.Provider, error) {
	key := e.APIKey
	if key == "" {
		key = os.Getenv(keyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("api_key is required (or set %s)", keyEnv)
	}
	baseURL := e.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout, err := e.DurationOption("timeout", 0)
	if err != nil {
		return nil, err
	}
	opts := []openai.Option{openai.WithBaseURL(baseURL)}
	if timeout > 0 {
		opts = append(opts, openai.WithTimeout(timeout))
	}
	return openai.New(key, e.Model, opts...)
}

// buildProviders instantiates the primary and fallback providers named in
// cfg and returns them for the application to consume. Synthesizers write
// into server.temp_dir unless their entry sets output_dir.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	p := cfg.Providers

	for _, e := range append([]config.ProviderEntry{p.LLM}, p.LLMFallbacks...) {
		v, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", e.Name, err)
		}
		ps.LLM = append(ps.LLM, app.Named[llm.Provider]{Name: e.Name, Provider: v})
		slog.Info("provider created", "kind", "llm", "name", e.Name, "model", e.Model)
	}

	for _, e := range append([]config.ProviderEntry{p.STT}, p.STTFallbacks...) {
		v, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", e.Name, err)
		}
		ps.STT = append(ps.STT, app.Named[stt.Provider]{Name: e.Name, Provider: v})
		slog.Info("provider created", "kind", "stt", "name", e.Name, "model", e.Model)
	}

	for _, e := range append([]config.ProviderEntry{p.TTS}, p.TTSFallbacks...) {
		if e.Name == "none" {
			slog.Info("speech synthesis disabled, replies are text-only")
			continue
		}
		v, err := reg.CreateTTS(withOutputDir(e, cfg.Server.TempDir))
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return nil, fmt.Errorf("create tts provider: %w", err)
		}
		if err != nil {
			// A broken synthesizer degrades replies to text instead of
			// refusing to start.
			slog.Error("tts provider unavailable, skipping", "name", e.Name, "err", err)
			continue
		}
		ps.TTS = append(ps.TTS, app.Named[tts.Provider]{Name: e.Name, Provider: v})
		slog.Info("provider created", "kind", "tts", "name", e.Name, "model", e.Model)
	}

	return ps, nil
}

// withOutputDir returns e with options.output_dir defaulted to dir.
func withOutputDir(e config.ProviderEntry, dir string) config.ProviderEntry {
	if _, ok := e.Options["output_dir"]; ok || dir == "" {
		return e
	}
	opts := make(map[string]any, len(e.Options)+1)
	maps.Copy(opts, e.Options)
	opts["output_dir"] = dir
	e.Options = opts
	return e
}
