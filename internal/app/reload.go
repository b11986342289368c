package app

import (
	"log/slog"

	"github.com/MrWong99/jessy/internal/config"
)

// ApplyConfig applies the hot-reloadable differences between old and new:
// log level, responder settings and the confidence gate. Changes to other
// sections are logged and take effect after a restart. It is meant to be
// passed to [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ResponderChanged {
		a.responder.UpdateSettings(responderSettings(d.Responder))
		slog.Info("responder settings updated",
			"temperature", d.Responder.Temperature,
			"context_turns", d.Responder.ContextTurns,
			"max_attempts", d.Responder.MaxAttempts,
			"timeout", d.Responder.Timeout,
		)
	}
	if d.ConfidenceChanged {
		a.pipeline.SetConfidenceThreshold(d.NewConfidence)
		slog.Info("confidence threshold changed", "threshold", d.NewConfidence)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()
}

// ParseLevel maps a config log level to its slog level. Unknown values map
// to info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
