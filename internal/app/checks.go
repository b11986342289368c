package app

import (
	"github.com/MrWong99/jessy/internal/config"
	"github.com/MrWong99/jessy/internal/health"
)

// configCheckers derives readiness checks for the local model files and
// binaries named by the provider config. Remote providers get none.
func (a *App) configCheckers() []health.Checker {
	var out []health.Checker
	p := a.cfg.Providers
	for i, e := range append([]config.ProviderEntry{p.STT}, p.STTFallbacks...) {
		out = append(out, providerCheckers("stt", i, e)...)
	}
	for i, e := range append([]config.ProviderEntry{p.TTS}, p.TTSFallbacks...) {
		out = append(out, providerCheckers("tts", i, e)...)
	}
	return out
}

// providerCheckers returns checks for one entry. idx 0 is the primary and
// keeps unsuffixed names.
func providerCheckers(kind string, idx int, e config.ProviderEntry) []health.Checker {
	suffix := ""
	if idx > 0 {
		suffix = "_" + e.Name
	}
	switch e.Name {
	case "whisper-cli":
		return []health.Checker{
			health.FileExists(kind+"_model"+suffix, e.Model),
			health.Executable("ffmpeg"+suffix, e.StringOption("ffmpeg", "ffmpeg")),
			health.Executable("whisper"+suffix, e.StringOption("binary", "whisper-cli")),
		}
	case "piper":
		return []health.Checker{
			health.FileExists(kind+"_voice"+suffix, e.Model),
			health.Executable("piper"+suffix, e.StringOption("binary", "piper")),
		}
	}
	return nil
}
