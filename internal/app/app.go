// Package app wires the Jessy subsystems into a running service.
//
// The App owns the full lifecycle: New connects the conversation store and
// builds the responder, voice pipeline and HTTP server, Run serves until the
// context ends, and Shutdown drains connections and closes everything in
// order.
//
// For testing, inject doubles through functional options (WithSessionStore,
// WithMetrics). When an option is not provided, New builds the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/jessy/internal/config"
	"github.com/MrWong99/jessy/internal/health"
	"github.com/MrWong99/jessy/internal/observe"
	"github.com/MrWong99/jessy/internal/resilience"
	"github.com/MrWong99/jessy/internal/responder"
	"github.com/MrWong99/jessy/internal/server"
	"github.com/MrWong99/jessy/internal/voice"
	"github.com/MrWong99/jessy/pkg/audio"
	"github.com/MrWong99/jessy/pkg/audio/capture"
	"github.com/MrWong99/jessy/pkg/memory"
	"github.com/MrWong99/jessy/pkg/memory/inmem"
	"github.com/MrWong99/jessy/pkg/memory/postgres"
	redisstore "github.com/MrWong99/jessy/pkg/memory/redis"
	"github.com/MrWong99/jessy/pkg/provider/llm"
	"github.com/MrWong99/jessy/pkg/provider/stt"
	"github.com/MrWong99/jessy/pkg/provider/tts"
)

// Named pairs a provider with the registry name it was built from.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds the configured backends per stage, primary first and
// fallbacks after it. Populated by main.go via the config registry.
type Providers struct {
	LLM []Named[llm.Provider]
	STT []Named[stt.Provider]
	TTS []Named[tts.Provider]
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	levelVar       *slog.LevelVar
	checkers       []health.Checker

	store     memory.SessionStore
	responder *responder.Responder
	pipeline  *voice.Pipeline
	server    *server.Server
	httpSrv   *http.Server

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a conversation store instead of creating one
// from config.memory.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records stage latencies, attempts and breaker transitions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithCheckers adds readiness checks on top of the ones derived from the
// config.
func WithCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// New creates an App by wiring all subsystems together. The providers come
// from main.go; at least one LLM and one STT backend are required, TTS is
// optional and its absence makes replies text-only.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || len(providers.LLM) == 0 {
		return nil, errors.New("app: an llm provider is required")
	}
	if len(providers.STT) == 0 {
		return nil, errors.New("app: an stt provider is required")
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	if err := a.initMemory(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	breakers := a.breakerConfig()
	llmP := a.llmChain(breakers)
	sttP := a.sttChain(breakers)
	ttsP := a.ttsChain(breakers)

	rOpts := []responder.Option{
		responder.WithSettings(responderSettings(cfg.Responder)),
		responder.WithProviderName(providers.LLM[0].Name),
	}
	if a.metrics != nil {
		rOpts = append(rOpts, responder.WithMetrics(a.metrics))
	}
	a.responder = responder.New(llmP, a.store, rOpts...)

	ttsName := ""
	if len(providers.TTS) > 0 {
		ttsName = providers.TTS[0].Name
	}
	vOpts := []voice.Option{
		voice.WithConfidenceThreshold(cfg.Capture.ConfidenceThreshold),
		voice.WithPendingTTL(cfg.Capture.PendingTTL),
		voice.WithPendingLimit(cfg.Capture.PendingLimit),
		voice.WithProviderNames(providers.STT[0].Name, ttsName),
	}
	if a.metrics != nil {
		vOpts = append(vOpts, voice.WithMetrics(a.metrics))
	}
	a.pipeline = voice.New(sttP, a.responder, ttsP, vOpts...)

	sOpts := []server.Option{
		server.WithRecorder(a.newRecorder()),
		server.WithConstraints(constraints(cfg.Capture)),
		server.WithTempDir(cfg.Server.TempDir),
		server.WithHealth(health.New(append(a.configCheckers(), a.checkers...)...)),
		server.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	}
	if a.metrics != nil {
		sOpts = append(sOpts, server.WithMetrics(a.metrics))
	}
	if a.metricsHandler != nil {
		sOpts = append(sOpts, server.WithMetricsHandler(a.metricsHandler))
	}
	a.server = server.New(a.pipeline, a.store, sOpts...)
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("app initialised",
		"llm", names(providers.LLM),
		"stt", names(providers.STT),
		"tts", names(providers.TTS),
		"memory", cfg.Memory.Backend,
	)
	return a, nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Responder returns the conversational responder.
func (a *App) Responder() *responder.Responder { return a.responder }

// Pipeline returns the voice pipeline.
func (a *App) Pipeline() *voice.Pipeline { return a.pipeline }

// Addr returns the bound listen address once Run has started, nil before.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory connects the configured conversation store unless one was
// injected.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	m := a.cfg.Memory
	switch m.Backend {
	case config.MemoryInProcess, "":
		a.store = inmem.New()

	case config.MemoryPostgres:
		store, err := postgres.NewStore(ctx, m.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = store
		a.checkers = append(a.checkers, health.Ping("memory", store.Ping))
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})

	case config.MemoryRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     m.RedisAddr,
			Password: m.RedisPassword,
			DB:       m.RedisDB,
		})
		store := redisstore.New(client, redisstore.WithKey(m.RedisKey), redisstore.WithTTL(m.RedisTTL))
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("redis store: ping %s: %w", m.RedisAddr, err)
		}
		a.store = store
		a.checkers = append(a.checkers, health.Ping("memory", store.Ping))
		a.closers = append(a.closers, client.Close)

	default:
		return fmt.Errorf("unknown memory backend %q", m.Backend)
	}
	return nil
}

func (a *App) breakerConfig() resilience.FallbackConfig {
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "provider", name, "from", from, "to", to)
			if a.metrics != nil {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			}
		},
	}}
}

func (a *App) llmChain(cfg resilience.FallbackConfig) llm.Provider {
	ps := a.providers.LLM
	fb := resilience.NewLLMFallback(ps[0].Provider, ps[0].Name, cfg)
	for _, p := range ps[1:] {
		fb.AddFallback(p.Name, p.Provider)
	}
	return fb
}

func (a *App) sttChain(cfg resilience.FallbackConfig) stt.Provider {
	ps := a.providers.STT
	fb := resilience.NewSTTFallback(ps[0].Provider, ps[0].Name, cfg)
	for _, p := range ps[1:] {
		fb.AddFallback(p.Name, p.Provider)
	}
	return fb
}

// ttsChain returns nil when no synthesizer is configured.
func (a *App) ttsChain(cfg resilience.FallbackConfig) tts.Provider {
	ps := a.providers.TTS
	if len(ps) == 0 {
		return nil
	}
	fb := resilience.NewTTSFallback(ps[0].Provider, ps[0].Name, cfg)
	for _, p := range ps[1:] {
		fb.AddFallback(p.Name, p.Provider)
	}
	return fb
}

func (a *App) newRecorder() *capture.Recorder {
	if a.metrics == nil {
		return capture.NewRecorder()
	}
	m := a.metrics
	return capture.NewRecorder(capture.WithStopHook(func(_ *audio.Clip, reason capture.StopReason, elapsed time.Duration) {
		m.CaptureDuration.Record(context.Background(), elapsed.Seconds(),
			metric.WithAttributes(observe.Attr("reason", reason.String())))
	}))
}

func responderSettings(c config.ResponderConfig) responder.Settings {
	return responder.Settings{
		Persona:        c.Persona,
		Temperature:    c.Temperature,
		ContextTurns:   c.ContextTurns,
		MaxAttempts:    c.MaxAttempts,
		AttemptTimeout: c.Timeout,
		MaxTokens:      c.MaxTokens,
	}
}

func constraints(c config.CaptureConfig) capture.Constraints {
	cons := capture.DefaultConstraints()
	if c.SampleRate > 0 {
		cons.Format = audio.Format{SampleRate: c.SampleRate, Channels: 1}
	}
	if c.MaxDuration > 0 {
		cons.MaxDuration = c.MaxDuration
	}
	cons.QuietThreshold = c.QuietThreshold
	return cons
}

func names[T any](ps []Named[T]) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on server.listen_addr and serves until ctx is cancelled or the
// server fails. Connections are drained by Shutdown, not by Run.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.httpSrv.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()
	slog.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, waits for in-flight requests and
// then runs the closers in order. It respects the context deadline: if ctx
// expires, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases whatever New acquired before failing.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
