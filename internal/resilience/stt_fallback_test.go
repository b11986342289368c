package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/jessy/pkg/audio"
	"github.com/MrWong99/jessy/pkg/provider/stt"
	sttmock "github.com/MrWong99/jessy/pkg/provider/stt/mock"
)

func TestSTTFallback_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: stt.ErrModelUnavailable}
	secondary := &sttmock.Provider{Result: stt.Result{Text: "Hello"}}

	fb := NewSTTFallback(primary, "whisper-cli", FallbackConfig{})
	fb.AddFallback("whisper-server", secondary)

	clip := &audio.Clip{Data: make([]byte, 3200), Format: audio.SpeechFormat}
	res, err := fb.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Hello" {
		t.Fatalf("Text = %q", res.Text)
	}
	if calls := secondary.Calls(); len(calls) != 1 || calls[0] != clip {
		t.Fatalf("secondary did not receive the clip")
	}
}

func TestSTTFallback_ErrorIdentityPreserved(t *testing.T) {
	primary := &sttmock.Provider{Err: &stt.ProcessError{Stage: "whisper-cli", Err: errors.New("exit status 1")}}
	fb := NewSTTFallback(primary, "whisper-cli", FallbackConfig{})

	_, err := fb.Transcribe(context.Background(), &audio.Clip{})
	if !errors.Is(err, stt.ErrDecodeTransport) {
		t.Fatalf("err = %v, want it to match stt.ErrDecodeTransport", err)
	}
	var pe *stt.ProcessError
	if !errors.As(err, &pe) || pe.Stage != "whisper-cli" {
		t.Fatalf("errors.As ProcessError failed: %v", err)
	}
}

func TestSTTFallback_BadClipsDoNotOpenBreaker(t *testing.T) {
	primary := &sttmock.Provider{TranscribeFunc: func(_ context.Context, clip *audio.Clip) (stt.Result, error) {
		if clip.Path == "garbage.bin" {
			return stt.Result{}, &stt.ProcessError{Stage: "ffmpeg", Stderr: "Invalid data found", ExitCode: 1, Err: errors.New("exit status 1")}
		}
		return stt.Result{Text: "Hello"}, nil
	}}
	secondary := &sttmock.Provider{Result: stt.Result{Text: "from secondary"}}

	fb := NewSTTFallback(primary, "whisper-cli", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: time.Hour},
	})
	fb.AddFallback("whisper-server", secondary)
	ctx := context.Background()

	for range 10 {
		_, err := fb.Transcribe(ctx, &audio.Clip{Path: "garbage.bin"})
		var pe *stt.ProcessError
		if !errors.As(err, &pe) || pe.Stderr != "Invalid data found" {
			t.Fatalf("err = %v, want the ffmpeg ProcessError", err)
		}
		if errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, request errors must not be reported as provider failure", err)
		}
	}
	if n := len(secondary.Calls()); n != 0 {
		t.Fatalf("secondary called %d times for bad clips, want 0", n)
	}

	res, err := fb.Transcribe(ctx, &audio.Clip{Path: "speech.wav"})
	if err != nil {
		t.Fatalf("valid clip after bad uploads: %v", err)
	}
	if res.Text != "Hello" {
		t.Fatalf("Text = %q, want primary result", res.Text)
	}
}

func TestSTTFallback_ModelUnavailableCounts(t *testing.T) {
	primary := &sttmock.Provider{Err: stt.ErrModelUnavailable}
	fb := NewSTTFallback(primary, "whisper-cli", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	ctx := context.Background()

	for range 2 {
		_, _ = fb.Transcribe(ctx, &audio.Clip{})
	}
	_, err := fb.Transcribe(ctx, &audio.Clip{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := len(primary.Calls()); n != 2 {
		t.Fatalf("primary called %d times, want 2", n)
	}
}
