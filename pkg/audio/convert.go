package audio

import (
	"log/slog"
	"sync"
)

// FormatConverter brings capture frames into a target format. It warns once
// on the first format mismatch and once on misaligned PCM.
// Create one per capture; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame in the target format. Matching frames pass through
// without allocation. Multi-channel audio is downmixed before resampling so
// the resampler only touches the channels that survive.
//
// Misaligned frames, or frames whose channel count cannot be mapped onto the
// target, come back with nil Data and should be dropped.
func (c *FormatConverter) Convert(frame Frame) Frame {
	out := Frame{Format: c.Target, Timestamp: frame.Timestamp}

	if frame.Channels <= 0 || len(frame.Data)%(2*frame.Channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: misaligned PCM frame, dropping",
				"bytes", len(frame.Data),
				"format", frame.Format.String(),
			)
		})
		return out
	}

	if frame.Format == c.Target {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio converter: converting capture format",
			"from", frame.Format.String(),
			"to", c.Target.String(),
		)
	})

	pcm, channels := frame.Data, frame.Channels
	switch {
	case channels == c.Target.Channels:
	case c.Target.Channels == 1:
		pcm, channels = Downmix(pcm, channels), 1
	case channels == 1:
		pcm, channels = Upmix(pcm, c.Target.Channels), c.Target.Channels
	default:
		return out
	}

	out.Data = Resample16(pcm, channels, frame.SampleRate, c.Target.SampleRate)
	return out
}

// Downmix averages interleaved int16 channels into mono, clamping to the
// int16 range.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*stride + ch*2
			sum += int32(int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8))
		}
		putSample(out, i, clamp16(sum/int32(channels)))
	}
	return out
}

// Upmix copies each mono int16 sample into every output channel.
func Upmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	n := len(pcm) / 2
	out := make([]byte, n*channels*2)
	for i := range n {
		for ch := range channels {
			j := (i*channels + ch) * 2
			out[j] = pcm[i*2]
			out[j+1] = pcm[i*2+1]
		}
	}
	return out
}

// Resample16 converts interleaved int16 PCM from srcRate to dstRate with
// linear interpolation per channel. Equal or invalid rates return pcm as is.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	stride := channels * 2
	srcFrames := len(pcm) / stride
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*stride)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := sampleAt(pcm, idx*channels+ch)
			s1 := sampleAt(pcm, next*channels+ch)
			putSample(out, i*channels+ch, int16(float64(s0)*(1-frac)+float64(s1)*frac))
		}
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(uint16(s) >> 8)
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
