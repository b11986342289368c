// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider turns one finished [audio.Clip] into a [Result]. Backends either
// drive a local decoder process chain (whispercli) or call a decoder server
// (whisper). Failures are reported through the sentinel errors in this
// package so callers can tell a missing model from a crashed decoder from
// unparseable output without knowing which backend ran.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/jessy/pkg/audio"
)

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe decodes clip into text. It never deletes a file-backed
	// clip; the clip's creator owns that file. Any temporary files the
	// provider creates itself are removed before Transcribe returns.
	//
	// Errors wrap one of [ErrModelUnavailable], [ErrDecodeTransport] or
	// [ErrMalformedOutput], or the context error.
	Transcribe(ctx context.Context, clip *audio.Clip) (Result, error)
}
