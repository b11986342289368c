// Package voice runs one spoken exchange end to end: a finished capture clip
// is transcribed, gated on confidence, answered by the responder and
// synthesized back to audio.
//
// Failures inside a turn do not surface as errors. They become [Advisory]
// values on the returned [Turn], mirroring what the user is told. A
// transcript whose confidence falls below the threshold is held under an ID
// and only reaches the responder, and therefore the session memory, once it
// is accepted with [Pipeline.Accept].
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/jessy/internal/observe"
	"github.com/MrWong99/jessy/internal/responder"
	"github.com/MrWong99/jessy/pkg/audio"
	"github.com/MrWong99/jessy/pkg/provider/stt"
	"github.com/MrWong99/jessy/pkg/provider/tts"
)

var (
	// ErrNoAudio is returned by Process for a nil clip.
	ErrNoAudio = errors.New("voice: no audio")

	// ErrUnknownTranscript is returned by Accept for an ID that was never
	// issued, was already accepted or discarded, or has expired.
	ErrUnknownTranscript = errors.New("voice: unknown or expired transcript")

	// ErrNoSynthesizer is returned by Speak when the pipeline is text-only.
	ErrNoSynthesizer = errors.New("voice: no synthesizer configured")
)

const (
	defaultPendingTTL   = 5 * time.Minute
	defaultPendingLimit = 1000
)

// Replier produces the conversational reply for a transcript.
// [*responder.Responder] implements it.
type Replier interface {
	Respond(ctx context.Context, prompt string) (responder.Reply, error)
}

var _ Replier = (*responder.Responder)(nil)

// Turn is the result of one voice exchange.
type Turn struct {
	// Transcript is the decoder result. Nil when transcription failed.
	Transcript *stt.Result

	// Verdict is the confidence gate outcome.
	Verdict stt.Verdict

	// PendingID identifies a held low-confidence transcript.
	PendingID string

	// Reply is set once the responder answered.
	Reply *responder.Reply

	// Speech is the synthesized reply. The caller owns it and must Close
	// it, or call [Turn.Close].
	Speech *tts.Artifact

	// Advisories are the user-facing hints, in the order they arose.
	Advisories []Advisory
}

// Close releases the synthesized artifact, if any.
func (t *Turn) Close() error {
	if t == nil || t.Speech == nil {
		return nil
	}
	return t.Speech.Close()
}

type pending struct {
	result  stt.Result
	expires time.Time
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	stt       stt.Provider
	replier   Replier
	tts       tts.Provider
	metrics   *observe.Metrics
	sttName   string
	ttsName   string
	ttl       time.Duration
	limit     int
	now       func() time.Time

	// pending evicts the oldest entry beyond limit and reclaims expired ones
	// in the background. Accept-once is enforced under mu.
	pending *expirable.LRU[string, pending]

	mu        sync.Mutex
	threshold float64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConfidenceThreshold sets the gate threshold. Default
// [stt.DefaultConfidenceThreshold].
func WithConfidenceThreshold(t float64) Option {
	return func(p *Pipeline) { p.threshold = t }
}

// WithPendingTTL sets how long a held transcript can be accepted.
// Default 5 minutes.
func WithPendingTTL(d time.Duration) Option {
	return func(p *Pipeline) { p.ttl = d }
}

// WithPendingLimit caps how many transcripts can be held at once. Holding
// one more evicts the oldest. Default 1000.
func WithPendingLimit(n int) Option {
	return func(p *Pipeline) { p.limit = n }
}

// WithMetrics records stage durations on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithProviderNames labels the STT and TTS stage metrics.
func WithProviderNames(sttName, ttsName string) Option {
	return func(p *Pipeline) { p.sttName, p.ttsName = sttName, ttsName }
}

// WithClock replaces time.Now for pending expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline. ttsP may be nil for text-only replies.
func New(sttP stt.Provider, r Replier, ttsP tts.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		stt:       sttP,
		replier:   r,
		tts:       ttsP,
		sttName:   "stt",
		ttsName:   "tts",
		threshold: stt.DefaultConfidenceThreshold,
		ttl:       defaultPendingTTL,
		limit:     defaultPendingLimit,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.ttl <= 0 {
		p.ttl = defaultPendingTTL
	}
	if p.limit <= 0 {
		p.limit = defaultPendingLimit
	}
	p.pending = expirable.NewLRU[string, pending](p.limit, func(id string, _ pending) {
		slog.Debug("voice: pending transcript released", "id", id)
	}, p.ttl)
	return p
}

// Process runs a finished capture through transcription, gating, the
// responder and synthesis. It returns an error only for a nil clip or when
// ctx ends.
func (p *Pipeline) Process(ctx context.Context, clip *audio.Clip) (*Turn, error) {
	if clip == nil {
		return nil, ErrNoAudio
	}
	ctx, span := observe.StartSpan(ctx, "voice.process",
		trace.WithAttributes(attribute.Bool("jessy.capture.too_quiet", clip.TooQuiet)))
	defer span.End()
	log := observe.Logger(ctx)

	turn := &Turn{}
	if clip.TooQuiet {
		turn.Advisories = append(turn.Advisories, tooQuiet())
	}

	res, err := p.Transcribe(ctx, clip)
	if err != nil {
		if ctx.Err() != nil {
			observe.EndSpan(span, ctx.Err())
			return nil, ctx.Err()
		}
		log.Warn("voice: transcription failed", "err", err)
		turn.Advisories = append(turn.Advisories, recognitionFailed(err))
		return turn, nil
	}
	turn.Transcript = &res
	turn.Verdict = p.Verdict(res)
	span.SetAttributes(attribute.String("jessy.transcript.verdict", turn.Verdict.String()))

	switch turn.Verdict {
	case stt.VerdictEmpty:
		turn.Advisories = append(turn.Advisories, notHeard())
		return turn, nil
	case stt.VerdictLowConfidence:
		turn.PendingID = p.hold(res)
		turn.Advisories = append(turn.Advisories, lowConfidence(res.Text, *res.Confidence))
		log.Info("voice: holding low-confidence transcript", "id", turn.PendingID, "confidence", *res.Confidence)
		return turn, nil
	}

	if err := p.answer(ctx, turn, res.Text); err != nil {
		observe.EndSpan(span, err)
		return nil, err
	}
	return turn, nil
}

// Accept answers a transcript previously held for low confidence. Each ID
// can be accepted once.
func (p *Pipeline) Accept(ctx context.Context, id string) (*Turn, error) {
	res, ok := p.take(id)
	if !ok {
		return nil, ErrUnknownTranscript
	}
	turn := &Turn{Transcript: &res, Verdict: stt.VerdictAccept}
	if err := p.answer(ctx, turn, res.Text); err != nil {
		return nil, err
	}
	return turn, nil
}

// Discard drops a held transcript and reports whether it existed.
func (p *Pipeline) Discard(id string) bool {
	_, ok := p.take(id)
	return ok
}

// Pending returns the number of held transcripts that have not expired.
func (p *Pipeline) Pending() int {
	now := p.now()
	n := 0
	for _, pt := range p.pending.Values() {
		if now.Before(pt.expires) {
			n++
		}
	}
	return n
}

// Reply answers typed text. It is the text-only path used by the HTTP
// surface and skips synthesis.
func (p *Pipeline) Reply(ctx context.Context, text string) (responder.Reply, error) {
	return p.replier.Respond(ctx, text)
}

// Transcribe decodes clip without gating or answering. Upload handlers use
// it directly.
func (p *Pipeline) Transcribe(ctx context.Context, clip *audio.Clip) (stt.Result, error) {
	if clip == nil {
		return stt.Result{}, ErrNoAudio
	}
	start := time.Now()
	res, err := p.stt.Transcribe(ctx, clip)
	if p.metrics != nil {
		p.metrics.RecordStage(ctx, p.metrics.STTDuration, p.sttName, start, err)
		if err != nil {
			p.metrics.RecordProviderError(ctx, p.sttName, "transcribe")
		}
	}
	return res, err
}

// Verdict gates res with the pipeline's confidence threshold.
func (p *Pipeline) Verdict(res stt.Result) stt.Verdict {
	return res.Gate(p.ConfidenceThreshold())
}

// ConfidenceThreshold returns the current gate threshold.
func (p *Pipeline) ConfidenceThreshold() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threshold
}

// SetConfidenceThreshold changes the gate for subsequent transcripts.
// Transcripts already held stay pending.
func (p *Pipeline) SetConfidenceThreshold(t float64) {
	p.mu.Lock()
	p.threshold = t
	p.mu.Unlock()
}

// Speak synthesizes text. The caller owns the returned artifact.
func (p *Pipeline) Speak(ctx context.Context, text string) (*tts.Artifact, error) {
	if p.tts == nil {
		return nil, ErrNoSynthesizer
	}
	start := time.Now()
	art, err := p.tts.Synthesize(ctx, text)
	if p.metrics != nil {
		p.metrics.RecordStage(ctx, p.metrics.TTSDuration, p.ttsName, start, err)
		if err != nil {
			p.metrics.RecordProviderError(ctx, p.ttsName, "synthesize")
		}
	}
	return art, err
}

func (p *Pipeline) answer(ctx context.Context, turn *Turn, text string) error {
	reply, err := p.replier.Respond(ctx, text)
	if err != nil {
		return fmt.Errorf("voice: respond: %w", err)
	}
	turn.Reply = &reply
	if p.tts == nil {
		return nil
	}

	art, err := p.Speak(ctx, reply.Text)
	if err != nil {
		observe.Logger(ctx).Warn("voice: synthesis failed", "err", err)
		turn.Advisories = append(turn.Advisories, speechFailed(err))
		return nil
	}
	turn.Speech = art
	return nil
}

func (p *Pipeline) hold(res stt.Result) string {
	id := uuid.NewString()
	p.pending.Add(id, pending{result: res, expires: p.now().Add(p.ttl)})
	return id
}

func (p *Pipeline) take(id string) (stt.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt, ok := p.pending.Peek(id)
	if !ok {
		return stt.Result{}, false
	}
	p.pending.Remove(id)
	if !p.now().Before(pt.expires) {
		slog.Debug("voice: pending transcript expired", "id", id)
		return stt.Result{}, false
	}
	return pt.result, true
}
