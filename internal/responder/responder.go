// Package responder turns a user utterance into Jessy's reply.
//
// Each call reads a rolling window of recent, non-degraded turns from the
// session store, renders it into the persona prompt, asks the completion
// backend with a bounded number of sequential attempts, screens the answer
// for degraded or echoed text, and finally appends the user turn and the
// reply (real or fallback) to the store.
//
// Respond only ever fails for an empty prompt. Backend and store failures
// degrade to the fallback reply and are logged.
package responder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/jessy/internal/observe"
	"github.com/MrWong99/jessy/pkg/memory"
	"github.com/MrWong99/jessy/pkg/provider/llm"
)

// ErrEmptyPrompt is returned by Respond for empty or whitespace-only input.
var ErrEmptyPrompt = errors.New("responder: empty prompt")

const (
	defaultTemperature    = 0.7
	defaultContextTurns   = 5
	defaultMaxAttempts    = 3
	defaultAttemptTimeout = 30 * time.Second
)

// Fallback reasons reported in [Reply.FallbackReason] and metrics.
const (
	ReasonDegraded = "degraded"
	ReasonEcho     = "echo"
)

// Settings are the tunables that may change at runtime.
type Settings struct {
	// Persona opens the rendered prompt. Default [DefaultPersona].
	Persona string

	// Temperature is forwarded to the backend. Default 0.7.
	Temperature float64

	// ContextTurns is the rolling window size. Default 5.
	ContextTurns int

	// MaxAttempts bounds the sequential completion attempts. Default 3.
	MaxAttempts int

	// AttemptTimeout bounds each attempt. Default 30s.
	AttemptTimeout time.Duration

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int
}

func (s Settings) withDefaults() Settings {
	if s.Persona == "" {
		s.Persona = DefaultPersona
	}
	if s.Temperature == 0 {
		s.Temperature = defaultTemperature
	}
	if s.ContextTurns <= 0 {
		s.ContextTurns = defaultContextTurns
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = defaultMaxAttempts
	}
	if s.AttemptTimeout <= 0 {
		s.AttemptTimeout = defaultAttemptTimeout
	}
	return s
}

// Reply is the outcome of one Respond call.
type Reply struct {
	// Text is what the user sees and what was stored as the assistant turn.
	Text string

	// Fallback is true when Text is the canned fallback message.
	Fallback bool

	// FallbackReason is ReasonDegraded or ReasonEcho when Fallback is set.
	FallbackReason string

	// Attempts lists every completion call in order.
	Attempts []Attempt
}

// Responder is safe for concurrent use. Concurrent calls each read their own
// window; their appends interleave in store order.
type Responder struct {
	llm     llm.Provider
	store   memory.SessionStore
	metrics *observe.Metrics
	name    string

	mu       sync.RWMutex
	settings Settings
}

// Option configures a Responder.
type Option func(*Responder)

// WithSettings replaces the default [Settings]. Zero fields keep defaults.
func WithSettings(s Settings) Option {
	return func(r *Responder) { r.settings = s }
}

// WithMetrics records attempt and fallback metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Responder) { r.metrics = m }
}

// WithProviderName labels backend metrics and logs. Default "llm".
func WithProviderName(name string) Option {
	return func(r *Responder) { r.name = name }
}

// New creates a Responder over the given backend and store.
func New(backend llm.Provider, store memory.SessionStore, opts ...Option) *Responder {
	r := &Responder{llm: backend, store: store, name: "llm"}
	for _, o := range opts {
		o(r)
	}
	r.settings = r.settings.withDefaults()
	return r
}

// Settings returns the current settings.
func (r *Responder) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// UpdateSettings swaps the settings used by subsequent Respond calls. Calls
// already in flight keep the settings they started with.
func (r *Responder) UpdateSettings(s Settings) {
	s = s.withDefaults()
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	slog.Info("responder settings updated",
		"temperature", s.Temperature,
		"context_turns", s.ContextTurns,
		"max_attempts", s.MaxAttempts,
	)
}

// Respond produces the reply to prompt and records both turns.
func (r *Responder) Respond(ctx context.Context, prompt string) (Reply, error) {
	if strings.TrimSpace(prompt) == "" {
		return Reply{}, ErrEmptyPrompt
	}
	cfg := r.Settings()

	ctx, span := observe.StartSpan(ctx, "responder.respond",
		trace.WithAttributes(attribute.Int("jessy.prompt.length", len(prompt))))
	defer span.End()
	log := observe.Logger(ctx)

	window, err := r.store.Recent(ctx, cfg.ContextTurns, true)
	if err != nil {
		log.Warn("responder: read context window", "err", err)
		window = nil
	}

	req := llm.CompletionRequest{
		Messages:    []llm.Message{llm.UserMessage(RenderPrompt(cfg.Persona, window, prompt))},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	text, attempts := r.complete(ctx, cfg, req)

	reply := Reply{Text: text, Attempts: attempts}
	switch {
	case memory.IsDegraded(text):
		reply.Fallback, reply.FallbackReason = true, ReasonDegraded
	case strings.Contains(text, prompt):
		reply.Fallback, reply.FallbackReason = true, ReasonEcho
	}
	if reply.Fallback {
		log.Warn("responder: using fallback reply", "reason", reply.FallbackReason, "attempts", len(attempts))
		reply.Text = FallbackReply(prompt)
		if r.metrics != nil {
			r.metrics.RecordFallback(ctx, reply.FallbackReason)
		}
	}
	span.SetAttributes(
		attribute.Int("jessy.completion.attempts", len(attempts)),
		attribute.Bool("jessy.reply.fallback", reply.Fallback),
	)

	// The turns are written even when the caller has gone away.
	r.record(context.WithoutCancel(ctx), prompt, reply.Text)
	return reply, nil
}

// complete drives the attempt state machine and returns the accepted text.
func (r *Responder) complete(ctx context.Context, cfg Settings, req llm.CompletionRequest) (string, []Attempt) {
	log := observe.Logger(ctx)
	attempts := make([]Attempt, 0, cfg.MaxAttempts)

	for n := 1; ; n++ {
		a := r.attempt(ctx, cfg, req, n)
		attempts = append(attempts, a)
		if r.metrics != nil {
			r.metrics.RecordAttempt(ctx, a.Outcome.String())
		}

		switch next(a, cfg.MaxAttempts) {
		case stepDone:
			return a.Text, attempts
		case stepExhausted:
			log.Warn("responder: completion attempts exhausted", "attempts", n, "err", a.Err)
			return TransportFailureText, attempts
		}

		if a.Outcome == OutcomeTransportError {
			log.Warn("responder: completion failed, retrying", "attempt", n, "err", a.Err)
		} else {
			log.Info("responder: low-quality completion, retrying", "attempt", n)
		}
		if ctx.Err() != nil {
			log.Warn("responder: context done, abandoning retries", "attempt", n, "err", ctx.Err())
			return TransportFailureText, attempts
		}
	}
}

func (r *Responder) attempt(ctx context.Context, cfg Settings, req llm.CompletionRequest, n int) Attempt {
	actx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.llm.Complete(actx, req)
	a := Attempt{Number: n, Err: err, Duration: time.Since(start)}
	if r.metrics != nil {
		r.metrics.RecordStage(ctx, r.metrics.LLMDuration, r.name, start, err)
	}

	switch {
	case err != nil:
		a.Outcome = OutcomeTransportError
		if r.metrics != nil {
			r.metrics.RecordProviderError(ctx, r.name, "completion")
		}
	default:
		a.Text = EmptyCompletionText
		if resp != nil && resp.Content != "" {
			a.Text = resp.Content
		}
		a.Outcome = OutcomeSuccess
		if memory.IsDegraded(a.Text) {
			a.Outcome = OutcomeLowQuality
		}
	}
	return a
}

func (r *Responder) record(ctx context.Context, prompt, reply string) {
	now := time.Now()
	turns := []memory.Turn{
		{Speaker: memory.SpeakerUser, Text: prompt, CreatedAt: now},
		{Speaker: memory.SpeakerAssistant, Text: reply, CreatedAt: now},
	}
	for _, t := range turns {
		if err := r.store.Append(ctx, t); err != nil {
			observe.Logger(ctx).Error("responder: store turn", "speaker", t.Speaker, "err", err)
		}
	}
}
