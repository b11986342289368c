package audio

import "math"

// Loudness levels use the 0-255 byte scale of a browser analyser node: RMS
// amplitude in dBFS is mapped linearly from [minDecibels, maxDecibels] and
// clamped.
const (
	minDecibels = -100.0
	maxDecibels = -30.0

	// MaxLevel is the loudest reportable level.
	MaxLevel = 255
)

// Level returns the loudness of int16 little-endian PCM on a 0-255 scale.
// Silence and empty input return 0.
func Level(pcm []byte) int {
	rms := RMS(pcm)
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	scaled := (db - minDecibels) / (maxDecibels - minDecibels) * MaxLevel
	return int(math.Round(math.Max(0, math.Min(MaxLevel, scaled))))
}

// RMS returns the root-mean-square amplitude of int16 PCM normalised to
// [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(uint16(pcm[i*2])|uint16(pcm[i*2+1])<<8)) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
