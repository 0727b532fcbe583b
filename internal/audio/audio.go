package audio

import "time"

const (
	SampleRate    = 44100
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 882                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Stem names, in the order stems are rendered and persisted.
const (
	StemDrums  = "drums"
	StemBass   = "bass"
	StemOther  = "other"
	StemVocals = "vocals"
)

// StemNames lists the four stems every separated song carries.
var StemNames = []string{StemDrums, StemBass, StemOther, StemVocals}

// IsStemName reports whether name is one of the four known stems.
func IsStemName(name string) bool {
	for _, s := range StemNames {
		if s == name {
			return true
		}
	}
	return false
}

// SamplesToBytes converts int16 samples to little-endian PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// BytesToSamples converts little-endian PCM bytes to int16 samples.
// Trailing odd bytes are ignored.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(uint16(buf[i*2]) | uint16(buf[i*2+1])<<8)
	}
	return samples
}
