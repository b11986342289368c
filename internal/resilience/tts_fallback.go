package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/jessy/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across synthesizers.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
// Errors matched by [tts.IsInputError] neither trip a breaker nor fail over
// to the next synthesizer unless cfg supplies its own IsFailure.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool { return !tts.IsInputError(err) }
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another synthesizer.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text with the first healthy synthesizer. Blank text is
// rejected up front so it neither fails over nor trips a breaker.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (*tts.Artifact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) (*tts.Artifact, error) {
		return p.Synthesize(ctx, text)
	})
}
