package resilience

import (
	"context"

	"github.com/MrWong99/jessy/pkg/audio"
	"github.com/MrWong99/jessy/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across recognizers.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// Errors matched by [stt.IsInputError] neither trip a breaker nor fail over
// to the next recognizer unless cfg supplies its own IsFailure.
// Errors matched by [stt.IsInputError] neither trip a breaker nor fail over
// to the next recognizer unless cfg supplies its own IsFailure.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool { return !stt.IsInputError(err) }
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another recognizer.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs clip through the first healthy recognizer.
func (f *STTFallback) Transcribe(ctx context.Context, clip *audio.Clip) (stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, clip)
	})
}
