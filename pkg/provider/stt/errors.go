package stt

import (
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable means the decoder's model file is missing or
	// unreadable. It is detected before any process is started.
	ErrModelUnavailable = errors.New("stt: model unavailable")

	// ErrDecodeTransport means a pipeline process failed: non-zero exit,
	// crash, or a broken pipe between stages.
	ErrDecodeTransport = errors.New("stt: decode transport failed")

	// ErrMalformedOutput means the decoder finished but its output could not
	// be parsed.
	ErrMalformedOutput = errors.New("stt: malformed decoder output")
)

// ProcessError describes a failed decoder process. It matches
// [ErrDecodeTransport] with errors.Is.
type ProcessError struct {
	// Stage names the process that failed first.
	Stage string

	// Stderr is the tail of that process's diagnostic output.
	Stderr string

	// ExitCode is the exit status of a process that ran to completion and
	// failed. Zero when the process never started or was killed.
	ExitCode int

	// HTTPStatus is the response status of a network backend, zero for
	// local processes.
	HTTPStatus int

	Err error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("stt: %s failed: %v: %s", e.Stage, e.Err, e.Stderr)
	}
	return fmt.Sprintf("stt: %s failed: %v", e.Stage, e.Err)
}

func (e *ProcessError) Unwrap() []error { return []error{ErrDecodeTransport, e.Err} }

// MalformedOutputError carries the raw decoder output that failed to parse.
// It matches [ErrMalformedOutput] with errors.Is.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("stt: parse decoder output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() []error { return []error{ErrMalformedOutput, e.Err} }

// IsInputError reports whether err was caused by the clip rather than by the
// health of the recognizer: a decoder that ran and rejected the audio, a
// server that answered 4xx, or output that could not be parsed. Such errors
// are specific to one request and are not worth failing over.
//
// A missing model ([ErrModelUnavailable]) is not an input error.
func IsInputError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedOutput) {
		return true
	}
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.ExitCode > 0 || (pe.HTTPStatus >= 400 && pe.HTTPStatus < 500)
	}
	return false
}
