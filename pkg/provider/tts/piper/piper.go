// Package piper provides a TTS provider that runs the piper neural
// synthesizer as a subprocess.
//
// Each Synthesize call runs
//
//	piper --model <voice.onnx> --espeak_data <dir> --output_file <dir>/tts-output-<uuid>.wav
//
// with the reply text written to piper's stdin. The text travels as process
// input, never as a command line, so no quoting or escaping is involved.
package piper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/jessy/pkg/procpipe"
	"github.com/MrWong99/jessy/pkg/provider/tts"
)

const defaultBinary = "piper"

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBinary sets the piper executable. Defaults to "piper".
func WithBinary(path string) Option {
	return func(p *Provider) { p.binary = path }
}

// WithESpeakData sets the espeak-ng phoneme data directory. When empty piper
// uses its built-in location.
func WithESpeakData(dir string) Option {
	return func(p *Provider) { p.espeakData = dir }
}

// WithOutputDir sets where artifacts are written. Defaults to os.TempDir().
func WithOutputDir(dir string) Option {
	return func(p *Provider) { p.outputDir = dir }
}

// WithSpeaker selects a speaker id for multi-speaker voices.
func WithSpeaker(id int) Option {
	return func(p *Provider) { p.speaker = &id }
}

// WithLengthScale sets piper's length scale; values above 1 speak slower.
func WithLengthScale(scale float64) Option {
	return func(p *Provider) { p.lengthScale = scale }
}

// Provider implements [tts.Provider] with the piper binary.
type Provider struct {
	modelPath   string
	binary      string
	espeakData  string
	outputDir   string
	speaker     *int
	lengthScale float64
}

// New returns a Provider for the onnx voice at modelPath.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("piper: model path must not be empty")
	}
	p := &Provider{modelPath: modelPath, binary: defaultBinary}
	for _, o := range opts {
		o(p)
	}
	if p.outputDir == "" {
		p.outputDir = os.TempDir()
	}
	return p, nil
}

// CheckVoice reports [tts.ErrVoiceUnavailable] when the voice model or the
// phoneme data directory is missing. Health probes call it too.
func (p *Provider) CheckVoice() error {
	if _, err := os.Stat(p.modelPath); err != nil {
		return fmt.Errorf("piper: %w: %w", tts.ErrVoiceUnavailable, err)
	}
	if p.espeakData != "" {
		fi, err := os.Stat(p.espeakData)
		if err != nil {
			return fmt.Errorf("piper: %w: %w", tts.ErrVoiceUnavailable, err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("piper: %w: %s is not a directory", tts.ErrVoiceUnavailable, p.espeakData)
		}
	}
	return nil
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Artifact, error) {
	// piper synthesizes each input line to the same output file, so only the
	// last line would survive; fold the reply onto one line.
	line := strings.Join(strings.Fields(text), " ")
	if line == "" {
		return nil, tts.ErrEmptyText
	}
	if err := p.CheckVoice(); err != nil {
		return nil, err
	}

	out := filepath.Join(p.outputDir, "tts-output-"+uuid.NewString()+".wav")
	cmd := procpipe.Command{Label: "piper", Path: p.binary, Args: p.args(out)}

	start := time.Now()
	if err := cmd.Run(ctx, strings.NewReader(line+"\n"), io.Discard); err != nil {
		removeQuiet(out)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("piper: %w", ctxErr)
		}
		se := &tts.SynthesisError{Err: err}
		var stageErr *procpipe.StageError
		if errors.As(err, &stageErr) {
			se.Stderr, se.Err = stageErr.Stderr, stageErr.Err
		}
		if code := procpipe.ExitCode(err); code > 0 {
			se.ExitCode = code
		}
		return nil, se
	}

	fi, err := os.Stat(out)
	if err != nil || fi.Size() == 0 {
		removeQuiet(out)
		return nil, &tts.SynthesisError{Err: tts.ErrNoOutput}
	}

	slog.Debug("piper: synthesized", "chars", len(line), "bytes", fi.Size(), "took", time.Since(start))
	return tts.NewArtifact(out, "audio/wav"), nil
}

func (p *Provider) args(out string) []string {
	args := []string{"--model", p.modelPath}
	if p.espeakData != "" {
		args = append(args, "--espeak_data", p.espeakData)
	}
	if p.speaker != nil {
		args = append(args, "--speaker", fmt.Sprint(*p.speaker))
	}
	if p.lengthScale > 0 {
		args = append(args, "--length_scale", fmt.Sprint(p.lengthScale))
	}
	return append(args, "--output_file", out)
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("piper: failed to remove partial output", "path", path, "err", err)
	}
}
