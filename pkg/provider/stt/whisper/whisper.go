// Package whisper provides an STT provider backed by a running
// whisper.cpp server (the whisper-server binary, POST /inference).
//
// It is the network alternative to the whispercli backend: no processes are
// spawned per request, which suits deployments where the decoder runs in its
// own container. In-memory clips are uploaded as WAV; file-backed clips are
// uploaded as is, so the server must be started with --convert to accept
// containers other than WAV.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := p.Transcribe(ctx, clip)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/jessy/pkg/audio"
	"github.com/MrWong99/jessy/pkg/provider/stt"
)

const defaultLanguage = "en"

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server. When empty
// the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the recognition language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the HTTP client. The default has a 60 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements [stt.Provider] against a whisper.cpp server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip) (stt.Result, error) {
	var (
		payload  []byte
		filename = "audio.wav"
	)
	switch {
	case clip.IsFile():
		data, err := os.ReadFile(clip.Path)
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read clip: %w", err)
		}
		payload, filename = data, filepath.Base(clip.Path)
	case len(clip.Data) > 0:
		payload = audio.EncodeWAV(clip.Data, clip.Format)
	default:
		return stt.Result{}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write audio: %w", err)
	}
	fields := map[string]string{
		"language":        p.language,
		"model":           p.model,
		"response_format": "verbose_json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Result{}, fmt.Errorf("whisper: %w", ctxErr)
		}
		return stt.Result{}, &stt.ProcessError{Stage: "whisper-server", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, &stt.ProcessError{Stage: "whisper-server", Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, &stt.ProcessError{
			Stage:      "whisper-server",
			Stderr:     strings.TrimSpace(string(data)),
			HTTPStatus: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	return parseResponse(data)
}

// response covers both the plain {"text"} reply and verbose_json.
type response struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string   `json:"text"`
		Start      float64  `json:"start"`
		End        float64  `json:"end"`
		Confidence *float64 `json:"confidence"`
	} `json:"segments"`
}

func parseResponse(data []byte) (stt.Result, error) {
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return stt.Result{}, &stt.MalformedOutputError{Raw: string(data), Err: err}
	}
	if len(r.Segments) == 0 {
		return stt.Result{Text: strings.TrimSpace(r.Text)}, nil
	}

	segs := make([]stt.Segment, 0, len(r.Segments))
	for _, s := range r.Segments {
		segs = append(segs, stt.Segment{
			Text:  s.Text,
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
		})
	}
	res := stt.Result{Text: stt.JoinSegments(segs), Segments: segs}
	if c := r.Segments[0].Confidence; c != nil && *c > 0 {
		v := *c
		res.Confidence = &v
	}
	return res, nil
}
