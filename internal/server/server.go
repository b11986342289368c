// Package server exposes the voice pipeline over HTTP.
//
// Routes:
//
//	POST   /clone                  typed prompt, JSON reply
//	GET    /api/chats              conversation log
//	DELETE /api/chats              clear the log
//	POST   /api/speech-to-text     multipart upload (field "audio")
//	GET    /tts?text=              synthesized audio/wav
//	GET    /api/voice              WebSocket capture session
//	POST   /api/voice/accept       answer a held low-confidence transcript
//
// Health and metrics routes are mounted when configured.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/MrWong99/jessy/internal/health"
	"github.com/MrWong99/jessy/internal/observe"
	"github.com/MrWong99/jessy/internal/voice"
	"github.com/MrWong99/jessy/pkg/audio/capture"
	"github.com/MrWong99/jessy/pkg/memory"
)

const defaultMaxUploadBytes = 25 << 20

// Server holds the handlers' dependencies. Create it with [New].
type Server struct {
	pipeline    *voice.Pipeline
	store       memory.SessionStore
	recorder    *capture.Recorder
	constraints capture.Constraints
	metrics     *observe.Metrics
	health      *health.Handler
	metricsH    http.Handler
	tempDir     string
	maxUpload   int64
	origins     []string
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder replaces the capture recorder used by the voice socket.
func WithRecorder(r *capture.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithConstraints sets the capture constraints for voice sessions. The
// socket's rate and channels query parameters only describe the incoming
// frames; the clip format stays as configured here.
func WithConstraints(c capture.Constraints) Option {
	return func(s *Server) { s.constraints = c }
}

// WithMetrics wraps every route with the observe middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsH = h }
}

// WithTempDir sets where uploads are spooled. Default os.TempDir().
func WithTempDir(dir string) Option {
	return func(s *Server) { s.tempDir = dir }
}

// WithMaxUploadBytes bounds the speech-to-text request body. Default 25 MiB.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// WithOriginPatterns allows cross-origin WebSocket upgrades from hosts
// matching the given patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// New creates a Server.
func New(p *voice.Pipeline, store memory.SessionStore, opts ...Option) *Server {
	s := &Server{
		pipeline:    p,
		store:       store,
		recorder:    capture.NewRecorder(),
		constraints: capture.DefaultConstraints(),
		tempDir:     os.TempDir(),
		maxUpload:   defaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /clone", s.handleClone)
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("DELETE /api/chats", s.handleClearChats)
	mux.HandleFunc("POST /api/speech-to-text", s.handleSpeechToText)
	mux.HandleFunc("GET /tts", s.handleTTS)
	mux.HandleFunc("GET /api/voice", s.handleVoice)
	mux.HandleFunc("POST /api/voice/accept", s.handleAccept)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsH != nil {
		mux.Handle("GET /metrics", s.metricsH)
	}

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

type errorBody struct {
	Error  string `json:"error"`
	Raw    string `json:"raw,omitempty"`
	Detail string `json:"detail,omitempty"`
	Text   string `json:"text,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
