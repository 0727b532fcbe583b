// Package pitch implements a streaming phase-vocoder pitch shifter. One
// Shifter handles one channel; semitone changes take effect on the next
// processed block. Processing latency is one analysis window (~46ms at
// 44.1kHz), which callers accept as a fixed bias.
package pitch

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	// MinSemitones and MaxSemitones bound the shared pitch transform.
	MinSemitones = -12
	MaxSemitones = 12

	fftSize  = 2048
	hopSize  = 512 // 4x overlap
	halfBins = fftSize/2 + 1
)

// Latency is the number of samples of delay the shifter introduces.
const Latency = fftSize

// Shifter shifts the pitch of a single audio channel by a whole number of
// semitones without changing duration. The zero semitone setting is a true
// bypass: input blocks pass through untouched.
type Shifter struct {
	semitones int
	ratio     float64

	win      []float64
	colaNorm float64

	in  []float64 // pending input, less than one hop after each Process
	out []float64 // rendered output not yet handed to the caller
	ola []float64 // overlap-add accumulator

	lastPhase []float64
	sumPhase  []float64
	anaMagn   []float64
	anaFreq   []float64
	synMagn   []float64
	synFreq   []float64

	primed bool // true once the first full window has been analyzed
}

// NewShifter returns a bypassing shifter (0 semitones).
func NewShifter() *Shifter {
	win := window.Hann(fftSize)

	// Constant overlap-add normalization for a squared Hann at this hop
	// (1.5 for 4x overlap).
	var cola float64
	for off := 0; off < fftSize; off += hopSize {
		cola += win[off] * win[off]
	}

	return &Shifter{
		semitones: 0,
		ratio:     1,
		win:       win,
		colaNorm:  cola,
		ola:       make([]float64, fftSize),
		lastPhase: make([]float64, halfBins),
		sumPhase:  make([]float64, halfBins),
		anaMagn:   make([]float64, halfBins),
		anaFreq:   make([]float64, halfBins),
		synMagn:   make([]float64, halfBins),
		synFreq:   make([]float64, halfBins),
	}
}

// SetSemitones changes the shift amount, clamping to [-12, 12].
func (s *Shifter) SetSemitones(n int) {
	if n < MinSemitones {
		n = MinSemitones
	} else if n > MaxSemitones {
		n = MaxSemitones
	}
	if n == s.semitones {
		return
	}
	s.semitones = n
	s.ratio = math.Pow(2, float64(n)/12)
	if n == 0 {
		// Returning to bypass drops vocoder state so the next non-zero
		// setting starts clean.
		s.Reset()
	}
}

// Semitones returns the current shift amount.
func (s *Shifter) Semitones() int {
	return s.semitones
}

// Reset discards all buffered audio and phase state.
func (s *Shifter) Reset() {
	s.in = s.in[:0]
	s.out = s.out[:0]
	for i := range s.ola {
		s.ola[i] = 0
	}
	for i := range s.lastPhase {
		s.lastPhase[i] = 0
		s.sumPhase[i] = 0
	}
	s.primed = false
}

// Process consumes one block and returns an equally sized shifted block.
// At 0 semitones the input is returned as-is.
func (s *Shifter) Process(block []float64) []float64 {
	if s.semitones == 0 {
		return block
	}

	s.in = append(s.in, block...)
	for len(s.in) >= fftSize {
		s.step()
		s.in = s.in[hopSize:]
	}

	out := make([]float64, len(block))
	if !s.primed || len(s.out) < len(block) {
		// Still filling the first window: emit leading silence, keep
		// whatever has been rendered for the next call.
		short := len(block) - len(s.out)
		if short > 0 {
			copy(out[short:], s.out)
			s.out = s.out[:0]
		} else {
			copy(out, s.out)
			s.out = s.out[len(block):]
		}
		return out
	}

	copy(out, s.out)
	s.out = append(s.out[:0], s.out[len(block):]...)
	return out
}

// step analyzes one window at the head of the input buffer and renders
// hopSize output samples.
func (s *Shifter) step() {
	frame := make([]float64, fftSize)
	for i := 0; i < fftSize; i++ {
		frame[i] = s.in[i] * s.win[i]
	}

	spec := fft.FFTReal(frame)

	const osamp = float64(fftSize) / float64(hopSize)
	expct := 2 * math.Pi * float64(hopSize) / float64(fftSize)

	// Analysis: recover the true frequency of each bin from the phase
	// difference between successive frames.
	for k := 0; k < halfBins; k++ {
		magn := cmplx.Abs(spec[k])
		phase := cmplx.Phase(spec[k])

		tmp := phase - s.lastPhase[k]
		s.lastPhase[k] = phase

		tmp -= float64(k) * expct
		tmp = wrapPhase(tmp)
		tmp = osamp * tmp / (2 * math.Pi)

		s.anaMagn[k] = magn
		s.anaFreq[k] = float64(k) + tmp
	}

	// Shift: move each bin's energy to the bin nearest its scaled frequency.
	for k := 0; k < halfBins; k++ {
		s.synMagn[k] = 0
		s.synFreq[k] = 0
	}
	for k := 0; k < halfBins; k++ {
		idx := int(float64(k) * s.ratio)
		if idx < halfBins {
			s.synMagn[idx] += s.anaMagn[k]
			s.synFreq[idx] = s.anaFreq[k] * s.ratio
		}
	}

	// Synthesis: accumulate phase for the shifted bins and invert.
	synth := make([]complex128, fftSize)
	for k := 0; k < halfBins; k++ {
		tmp := s.synFreq[k] - float64(k)
		tmp = 2 * math.Pi * tmp / osamp
		tmp += float64(k) * expct
		s.sumPhase[k] += tmp

		synth[k] = cmplx.Rect(s.synMagn[k], s.sumPhase[k])
	}
	for k := 1; k < fftSize/2; k++ {
		synth[fftSize-k] = cmplx.Conj(synth[k])
	}

	rendered := fft.IFFT(synth)
	for i := 0; i < fftSize; i++ {
		s.ola[i] += real(rendered[i]) * s.win[i] / s.colaNorm * 2
	}

	s.out = append(s.out, s.ola[:hopSize]...)
	copy(s.ola, s.ola[hopSize:])
	for i := fftSize - hopSize; i < fftSize; i++ {
		s.ola[i] = 0
	}
	s.primed = true
}

func wrapPhase(p float64) float64 {
	qpd := int(p / math.Pi)
	if qpd >= 0 {
		qpd += qpd & 1
	} else {
		qpd -= qpd & 1
	}
	return p - math.Pi*float64(qpd)
}
