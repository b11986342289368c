// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider turns one reply into an [Artifact]: an ephemeral audio file the
// caller streams to the listener and then closes, which deletes it. Failed
// syntheses never leave a file behind.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text to an audio file. On success the caller owns
	// the returned Artifact and must Close it once delivered. On failure no
	// artifact exists.
	//
	// Errors wrap [ErrEmptyText], [ErrVoiceUnavailable] or
	// [ErrSynthesisFailed], or the context error.
	Synthesize(ctx context.Context, text string) (*Artifact, error)
}

var (
	// ErrEmptyText is returned for blank input.
	ErrEmptyText = errors.New("tts: text is empty")

	// ErrVoiceUnavailable means a voice model or phoneme data is missing.
	// It is detected before any process is started.
	ErrVoiceUnavailable = errors.New("tts: voice unavailable")

	// ErrSynthesisFailed means the synthesizer ran but did not produce
	// audio.
	ErrSynthesisFailed = errors.New("tts: synthesis failed")

	// ErrNoOutput is the cause recorded when a synthesizer exits cleanly
	// without writing a usable file.
	ErrNoOutput = errors.New("no audio output produced")
)

// SynthesisError describes a failed synthesis. It matches
// [ErrSynthesisFailed] with errors.Is.
type SynthesisError struct {
	// Stderr is the tail of the synthesizer's diagnostic output, or the
	// server's error body for network backends.
	Stderr string

	// ExitCode is the exit status of a synthesizer process that ran and
	// failed. Zero when it never started or was killed.
	ExitCode int

	// HTTPStatus is the response status of a network backend.
	HTTPStatus int

	Err error
}

func (e *SynthesisError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("tts: synthesis failed: %v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("tts: synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() []error { return []error{ErrSynthesisFailed, e.Err} }

// IsInputError reports whether err was caused by the text rather than by the
// health of the synthesizer: blank text, a process that ran and rejected it,
// or a server that answered 4xx. A missing voice is not an input error.
func IsInputError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyText) {
		return true
	}
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.ExitCode > 0 || (se.HTTPStatus >= 400 && se.HTTPStatus < 500)
	}
	return false
}

// Artifact is a synthesized audio file. Close deletes it.
type Artifact struct {
	// Path is the audio file.
	Path string

	// ContentType is the MIME type of the file, e.g. "audio/wav".
	ContentType string

	once     sync.Once
	closeErr error
}

// NewArtifact wraps an existing file.
func NewArtifact(path, contentType string) *Artifact {
	return &Artifact{Path: path, ContentType: contentType}
}

// Open opens the audio file for reading.
func (a *Artifact) Open() (*os.File, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("tts: open artifact: %w", err)
	}
	return f, nil
}

// Size returns the file size in bytes.
func (a *Artifact) Size() (int64, error) {
	fi, err := os.Stat(a.Path)
	if err != nil {
		return 0, fmt.Errorf("tts: stat artifact: %w", err)
	}
	return fi.Size(), nil
}

// Close deletes the file. It is safe to call more than once; later calls
// return the first result.
func (a *Artifact) Close() error {
	a.once.Do(func() {
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.closeErr = fmt.Errorf("tts: remove artifact: %w", err)
		}
	})
	return a.closeErr
}
