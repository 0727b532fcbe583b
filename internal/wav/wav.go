// Package wav is the only package that understands byte-level audio formats.
// It converts between RIFF/WAVE container bytes, the compact persisted stem
// format (interleaved s16le), and the float sample buffers the separation
// engine and the mixer work in. Every function is pure; there is no state.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidContainer is returned when input bytes are not a PCM WAV container
// this service can decode.
var ErrInvalidContainer = errors.New("invalid or unsupported audio container")

const (
	headerSize = 44
	scale      = 1.0 / 32768.0
)

type riffHeader struct {
	ChunkID   [4]byte
	ChunkSize uint32
	Format    [4]byte
}

type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// DecodeContainer parses a RIFF/WAVE container into split float channels.
// Only 16-bit PCM is accepted; mono input is duplicated onto both channels.
// Containers whose fmt chunk is not the canonical 16 bytes (so the data chunk
// does not start at byte 44) are handled by scanning the chunk list.
func DecodeContainer(data []byte) (left, right []float64, sampleRate int, err error) {
	if len(data) < headerSize {
		return nil, nil, 0, fmt.Errorf("%w: %d bytes is too small", ErrInvalidContainer, len(data))
	}

	var riff riffHeader
	if err := binary.Read(bytes.NewReader(data[:12]), binary.LittleEndian, &riff); err != nil {
		return nil, nil, 0, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}
	if string(riff.ChunkID[:]) != "RIFF" || string(riff.Format[:]) != "WAVE" {
		return nil, nil, 0, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrInvalidContainer)
	}

	format, pcm, err := scanChunks(data)
	if err != nil {
		return nil, nil, 0, err
	}

	if format.AudioFormat != 1 {
		return nil, nil, 0, fmt.Errorf("%w: audio format %d is not PCM", ErrInvalidContainer, format.AudioFormat)
	}
	if format.BitsPerSample != 16 {
		return nil, nil, 0, fmt.Errorf("%w: %d bits per sample (expect 16)", ErrInvalidContainer, format.BitsPerSample)
	}
	if format.NumChannels != 1 && format.NumChannels != 2 {
		return nil, nil, 0, fmt.Errorf("%w: %d channels (expect mono or stereo)", ErrInvalidContainer, format.NumChannels)
	}

	samples := bytesToFloats(pcm)
	if format.NumChannels == 1 {
		left = samples
		right = make([]float64, len(samples))
		copy(right, samples)
		return left, right, int(format.SampleRate), nil
	}

	n := len(samples) / 2
	left = make([]float64, n)
	right = make([]float64, n)
	for i := 0; i < n; i++ {
		left[i] = samples[i*2]
		right[i] = samples[i*2+1]
	}
	return left, right, int(format.SampleRate), nil
}

// scanChunks walks the RIFF chunk list to find the fmt and data chunks. The
// common 44-byte layout is just the degenerate case of the scan (fmt first,
// data second), so no separate fast path is needed for correctness.
func scanChunks(data []byte) (fmtChunk, []byte, error) {
	var format fmtChunk
	var pcm []byte
	haveFmt, haveData := false, false

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body > len(data) {
			break
		}
		end := body + size
		if end > len(data) {
			// Tolerate a data chunk whose declared size overruns the file;
			// truncated downloads are common and the samples up to EOF are fine.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return format, nil, fmt.Errorf("%w: fmt chunk too small (%d bytes)", ErrInvalidContainer, size)
			}
			if err := binary.Read(bytes.NewReader(data[body:body+16]), binary.LittleEndian, &format); err != nil {
				return format, nil, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
			}
			haveFmt = true
		case "data":
			pcm = data[body:end]
			haveData = true
		}
		if haveFmt && haveData {
			return format, pcm, nil
		}

		// Chunks are word-aligned.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return format, nil, fmt.Errorf("%w: no fmt chunk", ErrInvalidContainer)
	}
	return format, nil, fmt.Errorf("%w: no data chunk", ErrInvalidContainer)
}

// EncodeContainer produces a canonical 44-byte-header stereo 16-bit WAV.
// Channels are clamped and quantized exactly like Compress.
func EncodeContainer(left, right []float64, sampleRate int) []byte {
	pcm := Compress(left, right)

	buf := new(bytes.Buffer)
	buf.Grow(headerSize + len(pcm))

	byteRate := sampleRate * 2 * 2
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, fmtChunk{
		AudioFormat:   1,
		NumChannels:   2,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(byteRate),
		BlockAlign:    4,
		BitsPerSample: 16,
	})
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// Compress converts float samples in [-1,1] to interleaved s16le bytes,
// halving storage versus float32. Out-of-range input is clamped, never
// wrapped. Channels of unequal length are truncated to the shorter one.
func Compress(left, right []float64) []byte {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		l := quantize(left[i])
		r := quantize(right[i])
		out[i*4] = byte(l)
		out[i*4+1] = byte(l >> 8)
		out[i*4+2] = byte(r)
		out[i*4+3] = byte(r >> 8)
	}
	return out
}

// Decompress is the inverse of Compress modulo 16-bit quantization:
// Compress(Decompress(b)) == b for every valid b.
func Decompress(data []byte) (left, right []float64, err error) {
	if len(data)%4 != 0 {
		return nil, nil, fmt.Errorf("compressed stem length %d is not frame aligned", len(data))
	}
	n := len(data) / 4
	left = make([]float64, n)
	right = make([]float64, n)
	for i := 0; i < n; i++ {
		l := int16(uint16(data[i*4]) | uint16(data[i*4+1])<<8)
		r := int16(uint16(data[i*4+2]) | uint16(data[i*4+3])<<8)
		left[i] = float64(l) * scale
		right[i] = float64(r) * scale
	}
	return left, right, nil
}

// Resample converts samples from one rate to another using linear
// interpolation. Returns the input slice unchanged when the rates match.
func Resample(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLength := len(samples) * toRate / fromRate
	resampled := make([]float64, newLength)

	for i := 0; i < newLength; i++ {
		pos := float64(i) * ratio
		index := int(pos)
		frac := pos - float64(index)

		if index+1 < len(samples) {
			resampled[i] = samples[index]*(1-frac) + samples[index+1]*frac
		} else if index < len(samples) {
			resampled[i] = samples[index]
		} else {
			resampled[i] = samples[len(samples)-1]
		}
	}

	return resampled
}

// Duration returns the playing time of sampleCount frames at rate.
func Duration(sampleCount, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(sampleCount) / float64(rate)
}

// quantize uses the same 1/32768 scale as decompression so that a value that
// came out of Decompress maps back onto the exact int16 it came from.
func quantize(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	s := v * 32768
	if s > 32767 {
		s = 32767
	} else if s < -32768 {
		s = -32768
	}
	return int16(s)
}

func bytesToFloats(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = float64(s) * scale
	}
	return out
}
