package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/jessy/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func assertSamples(t *testing.T, got []byte, want []int16) {
	t.Helper()
	g := bytesToSamples(got)
	if len(g) != len(want) {
		t.Fatalf("length mismatch: got %d samples, want %d", len(g), len(want))
	}
	for i := range want {
		if g[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, g[i], want[i])
		}
	}
}

func TestDownmix(t *testing.T) {
	t.Run("stereo", func(t *testing.T) {
		got := audio.Downmix(samplesToBytes([]int16{100, 200, -100, -200}), 2)
		assertSamples(t, got, []int16{150, -150})
	})
	t.Run("no overflow at full scale", func(t *testing.T) {
		got := audio.Downmix(samplesToBytes([]int16{32767, 32767}), 2)
		assertSamples(t, got, []int16{32767})
	})
	t.Run("three channels", func(t *testing.T) {
		got := audio.Downmix(samplesToBytes([]int16{30, 60, 90}), 3)
		assertSamples(t, got, []int16{60})
	})
}

func TestUpmix(t *testing.T) {
	got := audio.Upmix(samplesToBytes([]int16{1, -2}), 2)
	assertSamples(t, got, []int16{1, 1, -2, -2})
}

func TestResample16(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		channels int
		src, dst int
		wantLen  int
	}{
		{"same rate", []int16{1, 2, 3}, 1, 16000, 16000, 3},
		{"48k to 16k mono", make([]int16, 480), 1, 48000, 16000, 160},
		{"8k to 16k mono", make([]int16, 80), 1, 8000, 16000, 160},
		{"44.1k to 16k stereo", make([]int16, 882), 2, 44100, 16000, 320},
		{"zero rate", []int16{1, 2}, 1, 0, 16000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := audio.Resample16(samplesToBytes(tt.in), tt.channels, tt.src, tt.dst)
			if got := len(out) / 2; got != tt.wantLen {
				t.Errorf("got %d samples, want %d", got, tt.wantLen)
			}
		})
	}
}

func TestResample16_Interpolates(t *testing.T) {
	out := audio.Resample16(samplesToBytes([]int16{0, 100}), 1, 8000, 16000)
	assertSamples(t, out, []int16{0, 50, 100, 100})
}

func TestFormatConverter(t *testing.T) {
	t.Run("passthrough", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.SpeechFormat}
		in := audio.Frame{Data: samplesToBytes([]int16{1, 2}), Format: audio.SpeechFormat}
		out := conv.Convert(in)
		if &out.Data[0] != &in.Data[0] {
			t.Error("expected matching frame to pass through without copying")
		}
	})
	t.Run("48k stereo to speech", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.SpeechFormat}
		in := audio.Frame{
			Data:   samplesToBytes(make([]int16, 960*2)),
			Format: audio.Format{SampleRate: 48000, Channels: 2},
		}
		out := conv.Convert(in)
		if out.Format != audio.SpeechFormat {
			t.Errorf("format = %v, want %v", out.Format, audio.SpeechFormat)
		}
		if got := len(out.Data) / 2; got != 320 {
			t.Errorf("got %d samples, want 320", got)
		}
	})
	t.Run("misaligned frame dropped", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.SpeechFormat}
		out := conv.Convert(audio.Frame{Data: []byte{1, 2, 3}, Format: audio.SpeechFormat})
		if out.Data != nil {
			t.Errorf("expected nil data for misaligned frame, got %d bytes", len(out.Data))
		}
	})
	t.Run("stereo to 3ch unsupported", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 3}}
		out := conv.Convert(audio.Frame{Data: make([]byte, 8), Format: audio.Format{SampleRate: 16000, Channels: 2}})
		if out.Data != nil {
			t.Error("expected unsupported channel mapping to drop the frame")
		}
	})
}
