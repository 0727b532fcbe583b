package pitch

import (
	"math"
	"testing"
)

func sine(n int, freq, rate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

func TestSemitoneClamping(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 0},
		{5, 5},
		{-12, -12},
		{12, 12},
		{13, 12},
		{-40, -12},
	}
	s := NewShifter()
	for _, tt := range tests {
		s.SetSemitones(tt.in)
		if got := s.Semitones(); got != tt.want {
			t.Errorf("SetSemitones(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestZeroSemitonesIsBypass(t *testing.T) {
	s := NewShifter()
	in := sine(4096, 440, 44100)
	out := s.Process(in)
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("bypass altered sample %d: %v -> %v", i, in[i], out[i])
		}
	}
}

func TestProcessPreservesBlockLength(t *testing.T) {
	s := NewShifter()
	s.SetSemitones(3)
	for _, n := range []int{882, 1024, 2048, 100} {
		out := s.Process(sine(n, 440, 44100))
		if len(out) != n {
			t.Errorf("block of %d returned %d samples", n, len(out))
		}
	}
}

func TestSilenceInSilenceOut(t *testing.T) {
	s := NewShifter()
	s.SetSemitones(7)
	silence := make([]float64, 8192)
	out := s.Process(silence)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("silence produced %v at sample %d", v, i)
		}
	}
}

// TestOctaveShiftMovesEnergy verifies that shifting up 12 semitones moves a
// sine's dominant frequency to roughly twice the input frequency.
func TestOctaveShiftMovesEnergy(t *testing.T) {
	const rate = 44100.0
	const freq = 440.0

	s := NewShifter()
	s.SetSemitones(12)

	// Feed several seconds of a continuous tone so the vocoder is well past
	// its warm-up.
	signal := sine(40*4096, freq, rate)
	var rendered []float64
	for i := 0; i < 40; i++ {
		rendered = append(rendered, s.Process(signal[i*4096:(i+1)*4096])...)
	}
	tail := rendered[len(rendered)/2:]

	got := dominantFreq(tail, rate)
	want := freq * 2
	if math.Abs(got-want) > want*0.08 {
		t.Errorf("dominant frequency after +12st = %.1f Hz, want ~%.1f Hz", got, want)
	}
}

// dominantFreq estimates the strongest frequency by zero-crossing count,
// which is accurate enough for a clean shifted sine.
func dominantFreq(x []float64, rate float64) float64 {
	var crossings int
	for i := 1; i < len(x); i++ {
		if (x[i-1] < 0) != (x[i] < 0) {
			crossings++
		}
	}
	return float64(crossings) / 2 * rate / float64(len(x))
}

func TestResetClearsState(t *testing.T) {
	s := NewShifter()
	s.SetSemitones(5)
	s.Process(sine(8192, 440, 44100))
	s.Reset()

	out := s.Process(make([]float64, 4096))
	for i, v := range out {
		if v != 0 {
			t.Fatalf("stale audio after Reset at sample %d: %v", i, v)
		}
	}
}
