package config

import "fmt"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ResponderChanged is true if any responder setting changed.
	ResponderChanged bool
	Responder        ResponderConfig

	// ConfidenceChanged is true if capture.confidence_threshold changed.
	ConfidenceChanged bool
	NewConfidence     float64

	// RestartRequired lists changed keys that only take effect after a
	// restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Responder != new.Responder {
		d.ResponderChanged = true
		d.Responder = new.Responder
	}

	if old.Capture.ConfidenceThreshold != new.Capture.ConfidenceThreshold {
		d.ConfidenceChanged = true
		d.NewConfidence = new.Capture.ConfidenceThreshold
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	oc, nc := old.Capture, new.Capture
	oc.ConfidenceThreshold, nc.ConfidenceThreshold = 0, 0
	if oc != nc {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) && entryEqual(a.STT, b.STT) && entryEqual(a.TTS, b.TTS) &&
		entriesEqual(a.LLMFallbacks, b.LLMFallbacks) &&
		entriesEqual(a.STTFallbacks, b.STTFallbacks) &&
		entriesEqual(a.TTSFallbacks, b.TTSFallbacks)
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// entryEqual compares entries; options are compared by their formatted
// values since they hold arbitrary YAML scalars.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
