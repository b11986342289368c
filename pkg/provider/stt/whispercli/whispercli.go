// Package whispercli provides an STT provider that runs the whisper.cpp
// command line decoder behind an ffmpeg normalizer.
//
// Each Transcribe call starts two processes connected stdout to stdin:
//
//	ffmpeg -nostdin -i <input> -ar 16000 -ac 1 -c:a pcm_s16le -f wav pipe:1
//	whisper-cli -m <model> -l <lang> -f - --output-json --no-gpu
//
// The normalizer accepts any container ffmpeg understands, so uploads in
// webm, ogg or mp3 work as well as captured PCM. The decoder's JSON document
// is read from its stdout, or from a side file when [WithOutputFile] is set.
//
// Usage:
//
//	p, err := whispercli.New("/models/ggml-base.en.bin",
//	    whispercli.WithLanguage("en"),
//	)
//	res, err := p.Transcribe(ctx, clip)
package whispercli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/jessy/pkg/audio"
	"github.com/MrWong99/jessy/pkg/procpipe"
	"github.com/MrWong99/jessy/pkg/provider/stt"
)

const (
	defaultFFmpeg   = "ffmpeg"
	defaultWhisper  = "whisper-cli"
	defaultLanguage = "en"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithFFmpegPath sets the normalizer executable. Defaults to "ffmpeg".
func WithFFmpegPath(path string) Option {
	return func(p *Provider) { p.ffmpeg = path }
}

// WithWhisperPath sets the decoder executable. Defaults to "whisper-cli".
func WithWhisperPath(path string) Option {
	return func(p *Provider) { p.whisper = path }
}

// WithLanguage sets the recognition language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithGPU allows the decoder to use a GPU. Off by default.
func WithGPU(enabled bool) Option {
	return func(p *Provider) { p.gpu = enabled }
}

// WithThreads sets the decoder thread count. Zero leaves the decoder default.
func WithThreads(n int) Option {
	return func(p *Provider) { p.threads = n }
}

// WithExtraArgs appends arguments to the decoder command line.
func WithExtraArgs(args ...string) Option {
	return func(p *Provider) { p.extraArgs = append(p.extraArgs, args...) }
}

// WithOutputFile makes the decoder write its JSON document to a file in dir
// instead of stdout, for decoder builds that cannot print JSON to stdout.
// The file is removed after it has been read.
func WithOutputFile(dir string) Option {
	return func(p *Provider) {
		p.outputFile = true
		p.tempDir = dir
	}
}

// Provider implements [stt.Provider] with an ffmpeg → whisper-cli chain.
type Provider struct {
	modelPath  string
	ffmpeg     string
	whisper    string
	language   string
	gpu        bool
	threads    int
	extraArgs  []string
	outputFile bool
	tempDir    string
}

// New returns a Provider that decodes with the ggml model at modelPath.
// The model is checked on every call, not here, so a model installed after
// startup is picked up.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whispercli: model path must not be empty")
	}
	p := &Provider{
		modelPath: modelPath,
		ffmpeg:    defaultFFmpeg,
		whisper:   defaultWhisper,
		language:  defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ModelPath returns the configured model file.
func (p *Provider) ModelPath() string { return p.modelPath }

// CheckModel reports [stt.ErrModelUnavailable] when the model file cannot be
// read. Health probes call it too.
func (p *Provider) CheckModel() error {
	fi, err := os.Stat(p.modelPath)
	if err != nil {
		return fmt.Errorf("whispercli: %w: %w", stt.ErrModelUnavailable, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("whispercli: %w: %s is a directory", stt.ErrModelUnavailable, p.modelPath)
	}
	return nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip) (stt.Result, error) {
	if err := p.CheckModel(); err != nil {
		return stt.Result{}, err
	}

	var (
		input   io.Reader
		inArg   = "pipe:0"
		outBase string
	)
	switch {
	case clip.IsFile():
		inArg = clip.Path
	case len(clip.Data) > 0:
		input = bytes.NewReader(audio.EncodeWAV(clip.Data, clip.Format))
	default:
		return stt.Result{}, nil
	}

	if p.outputFile {
		dir, err := os.MkdirTemp(p.tempDir, "jessy-stt-*")
		if err != nil {
			return stt.Result{}, fmt.Errorf("whispercli: create output dir: %w", err)
		}
		defer os.RemoveAll(dir)
		outBase = filepath.Join(dir, "transcript")
	}

	normalize := procpipe.Command{
		Label: "ffmpeg",
		Path:  p.ffmpeg,
		Args: []string{
			"-nostdin", "-hide_banner", "-loglevel", "error",
			"-i", inArg,
			"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le",
			"-f", "wav", "pipe:1",
		},
	}
	if input != nil {
		// -nostdin would stop ffmpeg from reading the piped clip.
		normalize.Args = normalize.Args[1:]
	}
	decode := procpipe.Command{
		Label: "whisper-cli",
		Path:  p.whisper,
		Args:  p.decoderArgs(outBase),
	}

	start := time.Now()
	var stdout bytes.Buffer
	err := procpipe.Chain(ctx, input, &stdout, normalize, decode)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Result{}, fmt.Errorf("whispercli: %w", ctxErr)
		}
		pe := &stt.ProcessError{Stage: "pipeline", Err: err}
		var se *procpipe.StageError
		if errors.As(err, &se) {
			pe.Stage, pe.Stderr, pe.Err = se.Stage, se.Stderr, se.Err
		}
		if code := procpipe.ExitCode(err); code > 0 {
			pe.ExitCode = code
		}
		return stt.Result{}, pe
	}

	raw := stdout.Bytes()
	if p.outputFile {
		raw, err = os.ReadFile(outBase + ".json")
		if err != nil {
			return stt.Result{}, &stt.MalformedOutputError{Raw: stdout.String(), Err: err}
		}
	}

	res, err := parseOutput(raw)
	if err != nil {
		return stt.Result{}, err
	}
	slog.Debug("whispercli: transcribed",
		"segments", len(res.Segments),
		"chars", len(res.Text),
		"took", time.Since(start),
	)
	return res, nil
}

func (p *Provider) decoderArgs(outBase string) []string {
	args := []string{"-m", p.modelPath, "-l", p.language, "-f", "-", "--output-json"}
	if outBase != "" {
		args = append(args, "--output-file", outBase)
	}
	if !p.gpu {
		args = append(args, "--no-gpu")
	}
	if p.threads > 0 {
		args = append(args, "-t", fmt.Sprint(p.threads))
	}
	return append(args, p.extraArgs...)
}

// output mirrors the whisper.cpp JSON document.
type output struct {
	Transcription []struct {
		Text       string   `json:"text"`
		Confidence *float64 `json:"confidence"`
		Offsets    struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
	} `json:"transcription"`
}

func parseOutput(raw []byte) (stt.Result, error) {
	var out output
	if err := json.Unmarshal(raw, &out); err != nil {
		return stt.Result{}, &stt.MalformedOutputError{Raw: string(raw), Err: err}
	}

	segs := make([]stt.Segment, 0, len(out.Transcription))
	for _, s := range out.Transcription {
		segs = append(segs, stt.Segment{
			Text:  s.Text,
			Start: time.Duration(s.Offsets.From) * time.Millisecond,
			End:   time.Duration(s.Offsets.To) * time.Millisecond,
		})
	}

	res := stt.Result{Text: stt.JoinSegments(segs), Segments: segs}
	// A zero confidence means the decoder did not score the segment.
	if len(out.Transcription) > 0 {
		if c := out.Transcription[0].Confidence; c != nil && *c > 0 {
			v := *c
			res.Confidence = &v
		}
	}
	return res, nil
}
