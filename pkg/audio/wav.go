package audio

import (
	"encoding/binary"
	"errors"
)

// ErrNotWAV is returned by [DecodeWAV] for data that is not a PCM RIFF/WAVE
// stream.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM wav stream")

const wavHeaderSize = 44

// EncodeWAV wraps raw little-endian int16 PCM in a canonical 44-byte
// RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	dataLen := len(pcm)
	byteRate := f.BytesPerSecond()
	blockAlign := f.Channels * 2

	buf := make([]byte, wavHeaderSize+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV extracts the PCM payload and format from a 16-bit PCM WAV
// stream. Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(b []byte) ([]byte, Format, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}
	var (
		f      Format
		gotFmt bool
	)
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		end := min(body+size, len(b))
		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return nil, Format{}, ErrNotWAV
			}
			if binary.LittleEndian.Uint16(b[body:]) != 1 || binary.LittleEndian.Uint16(b[body+14:]) != 16 {
				return nil, Format{}, ErrNotWAV
			}
			f.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return nil, Format{}, ErrNotWAV
			}
			return b[body:end], f, nil
		}
		off = body + size + size%2
	}
	return nil, Format{}, ErrNotWAV
}
