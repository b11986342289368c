package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of 16-bit PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the mono 16 kHz layout expected by the speech decoder.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// BytesPerSecond returns the byte rate of signed 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Frame is a chunk of little-endian signed 16-bit PCM as delivered by a
// capture source.
type Frame struct {
	Data []byte
	Format

	// Timestamp is the offset of the first sample from capture start.
	Timestamp time.Duration
}

// Clip is a finished piece of audio handed from one pipeline stage to the
// next. It is either in-memory PCM (Data set) or backed by a file (Path set).
//
// Ownership moves with the clip: whoever created a backing file deletes it
// once the consumer is done.
type Clip struct {
	// Data is raw PCM in Format. Empty for file-backed clips.
	Data []byte

	// Format describes Data. Zero for file-backed clips of unknown layout.
	Format Format

	// Path is the backing file, if any.
	Path string

	// ContentType is the MIME type of the backing file, if known.
	ContentType string

	// PeakLevel is the highest loudness level (0-255) seen during capture.
	PeakLevel int

	// TooQuiet is set by capture when PeakLevel never reached the quiet
	// threshold.
	TooQuiet bool
}

// IsFile reports whether the clip is backed by a file.
func (c *Clip) IsFile() bool { return c.Path != "" }

// Duration returns the playback length of in-memory PCM. File-backed clips
// report zero.
func (c *Clip) Duration() time.Duration {
	bps := c.Format.BytesPerSecond()
	if bps == 0 || len(c.Data) == 0 {
		return 0
	}
	return time.Duration(len(c.Data)) * time.Second / time.Duration(bps)
}
