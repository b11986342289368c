package audio_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/MrWong99/jessy/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := samplesToBytes([]int16{1, -1, 300, -300})
	wav := audio.EncodeWAV(pcm, audio.SpeechFormat)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad header: %q", wav[:12])
	}

	got, f, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f != audio.SpeechFormat {
		t.Errorf("format = %v, want %v", f, audio.SpeechFormat)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("payload mismatch")
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	for name, in := range map[string][]byte{
		"empty":     nil,
		"not riff":  []byte("hello world, this is not a wav file at all"),
		"truncated": audio.EncodeWAV(nil, audio.SpeechFormat)[:20],
	} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := audio.DecodeWAV(in); !errors.Is(err, audio.ErrNotWAV) {
				t.Errorf("err = %v, want ErrNotWAV", err)
			}
		})
	}
}
