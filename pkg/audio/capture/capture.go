// Package capture turns a stream of microphone frames into a single
// [audio.Clip] while publishing live loudness levels.
//
// A capture is started with [Recorder.Start] and fed with [Handle.Write].
// It ends exactly once, whichever comes first: an explicit [Handle.Stop],
// the MaxDuration timer, the buffer reaching MaxDuration worth of audio, or
// cancellation of the start context. Every path runs the same finalisation,
// so an auto-stopped clip is identical to one stopped by hand at that
// instant.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/jessy/pkg/audio"
)

// ErrAlreadyStopped is returned by [Handle.Stop] and [Handle.Write] once
// the capture has ended. Stop still returns the finished clip alongside it.
var ErrAlreadyStopped = errors.New("capture: already stopped")

// StopReason tells why a capture ended.
type StopReason int

const (
	// StopManual means [Handle.Stop] was called.
	StopManual StopReason = iota + 1

	// StopMaxDuration means the MaxDuration timer fired or the buffer filled.
	StopMaxDuration

	// StopCancelled means the context passed to Start was cancelled.
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopManual:
		return "manual"
	case StopMaxDuration:
		return "max_duration"
	case StopCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Constraints describe the requested capture.
type Constraints struct {
	// Format is the layout of the finished clip. Frames in other formats are
	// converted on write.
	Format audio.Format

	// EchoCancellation and NoiseSuppression are requested from the capture
	// source. They are advisory; the recorder does not process audio itself.
	EchoCancellation bool
	NoiseSuppression bool

	// MaxDuration bounds the capture. The recorder stops on its own once it
	// elapses.
	MaxDuration time.Duration

	// QuietThreshold is the 0-255 level the peak must reach for the clip not
	// to be flagged as too quiet.
	QuietThreshold int
}

// DefaultConstraints returns mono 16 kHz capture with echo cancellation and
// noise suppression, a 15 second limit and a quiet threshold of 20.
func DefaultConstraints() Constraints {
	return Constraints{
		Format:           audio.SpeechFormat,
		EchoCancellation: true,
		NoiseSuppression: true,
		MaxDuration:      15 * time.Second,
		QuietThreshold:   20,
	}
}

// Validate reports unusable constraints.
func (c Constraints) Validate() error {
	var errs []error
	if c.Format.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture: sample rate must be positive, got %d", c.Format.SampleRate))
	}
	if c.Format.Channels <= 0 {
		errs = append(errs, fmt.Errorf("capture: channels must be positive, got %d", c.Format.Channels))
	}
	if c.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("capture: max duration must be positive, got %s", c.MaxDuration))
	}
	if c.QuietThreshold < 0 || c.QuietThreshold > audio.MaxLevel {
		errs = append(errs, fmt.Errorf("capture: quiet threshold %d outside 0-%d", c.QuietThreshold, audio.MaxLevel))
	}
	return errors.Join(errs...)
}

// AfterFunc schedules f after d and returns a function that cancels it.
// [time.AfterFunc] is the production implementation.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Recorder starts captures. The zero value is not usable; call [NewRecorder].
type Recorder struct {
	afterFunc AfterFunc
	onStop    func(*audio.Clip, StopReason, time.Duration)
	active    atomic.Int64
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithAfterFunc replaces the timer used for auto-stop. Tests use it to fire
// the limit deterministically.
func WithAfterFunc(f AfterFunc) Option {
	return func(r *Recorder) { r.afterFunc = f }
}

// WithStopHook registers a function called once per finished capture with
// the clip, the reason and the wall time the capture ran.
func WithStopHook(f func(clip *audio.Clip, reason StopReason, elapsed time.Duration)) Option {
	return func(r *Recorder) { r.onStop = f }
}

// NewRecorder returns a Recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{afterFunc: realAfterFunc}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Active returns the number of captures that have started but not ended.
func (r *Recorder) Active() int64 { return r.active.Load() }

// Start begins a capture. Cancelling ctx stops it with [StopCancelled].
func (r *Recorder) Start(ctx context.Context, c Constraints) (*Handle, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	bps := c.Format.BytesPerSecond()
	maxBytes := int(int64(bps) * int64(c.MaxDuration) / int64(time.Second))
	maxBytes -= maxBytes % (c.Format.Channels * 2)

	h := &Handle{
		rec:      r,
		cons:     c,
		conv:     audio.FormatConverter{Target: c.Format},
		maxBytes: maxBytes,
		levels:   make(chan int, 1),
		done:     make(chan struct{}),
		started:  time.Now(),
	}
	r.active.Add(1)
	h.mu.Lock()
	h.cancelTimer = r.afterFunc(c.MaxDuration, func() { h.finish(StopMaxDuration) })
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			h.finish(StopCancelled)
		case <-h.done:
		}
	}()

	slog.Debug("capture: started",
		"format", c.Format.String(),
		"max_duration", c.MaxDuration,
		"echo_cancellation", c.EchoCancellation,
		"noise_suppression", c.NoiseSuppression,
	)
	return h, nil
}

// Handle is a running capture. All methods are safe for concurrent use.
type Handle struct {
	rec      *Recorder
	cons     Constraints
	conv     audio.FormatConverter
	maxBytes int
	started  time.Time

	mu          sync.Mutex
	buf         []byte
	peak        int
	stopped     bool
	levels      chan int
	cancelTimer func() bool

	level atomic.Int32

	once   sync.Once
	done   chan struct{}
	clip   *audio.Clip
	reason StopReason
}

// Constraints returns the constraints the capture was started with.
func (h *Handle) Constraints() Constraints { return h.cons }

// Write appends a frame. Audio past MaxDuration is discarded and ends the
// capture. After the capture has ended Write returns [ErrAlreadyStopped].
func (h *Handle) Write(f audio.Frame) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return ErrAlreadyStopped
	}

	conv := h.conv.Convert(f)
	if len(conv.Data) == 0 {
		h.mu.Unlock()
		return nil
	}

	room := h.maxBytes - len(h.buf)
	data := conv.Data
	if len(data) > room {
		data = data[:room]
	}
	h.buf = append(h.buf, data...)

	lvl := audio.Level(conv.Data)
	h.level.Store(int32(lvl))
	h.peak = max(h.peak, lvl)

	// Latest value wins: drop the unread level instead of blocking. We are
	// the only sender and hold mu, so the send below cannot block.
	select {
	case <-h.levels:
	default:
	}
	h.levels <- lvl

	full := len(h.buf) >= h.maxBytes
	h.mu.Unlock()

	if full {
		h.finish(StopMaxDuration)
	}
	return nil
}

// Level returns the loudness of the most recent frame on a 0-255 scale.
func (h *Handle) Level() int { return int(h.level.Load()) }

// Levels delivers loudness updates. Only the latest unread value is kept,
// so a slow reader never stalls capture. The channel closes when the
// capture ends.
func (h *Handle) Levels() <-chan int { return h.levels }

// Done is closed once the capture has ended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop ends the capture and returns the clip. Calling Stop after the capture
// has already ended (by an earlier Stop, the timer or cancellation) returns
// the same clip together with [ErrAlreadyStopped].
func (h *Handle) Stop() (*audio.Clip, error) {
	if !h.finish(StopManual) {
		return h.clip, ErrAlreadyStopped
	}
	return h.clip, nil
}

// Result waits for the capture to end and returns its clip and reason.
func (h *Handle) Result(ctx context.Context) (*audio.Clip, StopReason, error) {
	select {
	case <-h.done:
		return h.clip, h.reason, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// finish runs finalisation once and reports whether this call did it.
func (h *Handle) finish(reason StopReason) bool {
	first := false
	h.once.Do(func() {
		first = true

		h.mu.Lock()
		h.stopped = true
		close(h.levels)
		clip := &audio.Clip{
			Data:      h.buf,
			Format:    h.cons.Format,
			PeakLevel: h.peak,
			TooQuiet:  h.peak < h.cons.QuietThreshold,
		}
		h.buf = nil
		cancelTimer := h.cancelTimer
		h.mu.Unlock()

		h.clip = clip
		h.reason = reason
		if cancelTimer != nil {
			cancelTimer()
		}
		elapsed := time.Since(h.started)
		h.rec.active.Add(-1)
		close(h.done)

		slog.Debug("capture: stopped",
			"reason", reason.String(),
			"audio", clip.Duration(),
			"peak_level", clip.PeakLevel,
			"too_quiet", clip.TooQuiet,
		)
		if h.rec.onStop != nil {
			h.rec.onStop(clip, reason, elapsed)
		}
	})
	return first
}
