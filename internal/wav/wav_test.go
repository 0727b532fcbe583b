package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
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

// --- Container decode ---

func TestDecodeCanonicalStereo(t *testing.T) {
	left := sine(4410, 440, 44100)
	right := sine(4410, 220, 44100)
	data := EncodeContainer(left, right, 44100)

	gotL, gotR, rate, err := DecodeContainer(data)
	if err != nil {
		t.Fatalf("DecodeContainer: %v", err)
	}
	if rate != 44100 {
		t.Errorf("sample rate = %d, want 44100", rate)
	}
	if len(gotL) != len(left) || len(gotR) != len(right) {
		t.Fatalf("lengths = %d/%d, want %d/%d", len(gotL), len(gotR), len(left), len(right))
	}
	for i := range gotL {
		if diff := math.Abs(gotL[i] - left[i]); diff > 1.0/32768 {
			t.Fatalf("left[%d] off by %v (more than one quantization step)", i, diff)
		}
	}
}

func TestDecodeMonoDuplicatesChannels(t *testing.T) {
	mono := sine(1000, 440, 44100)
	pcm := make([]byte, len(mono)*2)
	for i, v := range mono {
		s := int16(v * 32768)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	data := buildWAV(t, 1, 16, 44100, 16, pcm)

	left, right, _, err := DecodeContainer(data)
	if err != nil {
		t.Fatalf("DecodeContainer: %v", err)
	}
	if len(left) != len(mono) {
		t.Fatalf("left length = %d, want %d", len(left), len(mono))
	}
	for i := range left {
		if left[i] != right[i] {
			t.Fatalf("mono channels diverge at %d: %v vs %v", i, left[i], right[i])
		}
	}
}

func TestDecodeExtendedFmtChunk(t *testing.T) {
	// fmt chunk with 2 bytes of extension: data chunk is not at byte 44,
	// so decode must find it by scanning.
	left := sine(500, 440, 44100)
	pcm := Compress(left, left)
	data := buildWAV(t, 2, 16, 44100, 18, pcm)

	gotL, _, rate, err := DecodeContainer(data)
	if err != nil {
		t.Fatalf("DecodeContainer with 18-byte fmt chunk: %v", err)
	}
	if rate != 44100 || len(gotL) != 500 {
		t.Errorf("got rate=%d len=%d, want 44100/500", rate, len(gotL))
	}
}

func TestDecodeRejections(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too small", []byte("RIFF")},
		{"bad magic", bytes.Repeat([]byte{0x42}, 64)},
		{"float format", buildWAV(t, 2, 16, 44100, 16, nil, withFormatTag(3))},
		{"24-bit", buildWAV(t, 2, 24, 44100, 16, nil)},
		{"5.1 channels", buildWAV(t, 6, 16, 44100, 16, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := DecodeContainer(tt.data)
			if !errors.Is(err, ErrInvalidContainer) {
				t.Errorf("err = %v, want ErrInvalidContainer", err)
			}
		})
	}
}

// --- Compress / Decompress round trip ---

func TestCompressDecompressIdempotent(t *testing.T) {
	left := sine(2000, 440, 44100)
	right := sine(2000, 330, 44100)

	first := Compress(left, right)
	l2, r2, err := Decompress(first)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	second := Compress(l2, r2)

	if !bytes.Equal(first, second) {
		t.Fatal("compress(decompress(x)) != x: quantization is not stable")
	}
}

func TestCompressQuantizationError(t *testing.T) {
	left := sine(2000, 440, 44100)
	right := sine(2000, 330, 44100)

	l2, r2, err := Decompress(Compress(left, right))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(l2) != len(left) || len(r2) != len(right) {
		t.Fatalf("length changed: %d/%d -> %d/%d", len(left), len(right), len(l2), len(r2))
	}
	const step = 1.0 / 32768
	for i := range left {
		if math.Abs(l2[i]-left[i]) > step || math.Abs(r2[i]-right[i]) > step {
			t.Fatalf("sample %d differs by more than one quantization step", i)
		}
	}
}

func TestCompressChannelOrder(t *testing.T) {
	left := []float64{0.25, 0.25}
	right := []float64{-0.5, -0.5}
	l2, r2, err := Decompress(Compress(left, right))
	if err != nil {
		t.Fatal(err)
	}
	if l2[0] < 0 || r2[0] > 0 {
		t.Errorf("channels swapped: left=%v right=%v", l2[0], r2[0])
	}
}

func TestCompressClampsOutOfRange(t *testing.T) {
	left := []float64{2.0, -3.0}
	right := []float64{0, 0}
	l2, _, err := Decompress(Compress(left, right))
	if err != nil {
		t.Fatal(err)
	}
	if l2[0] < 0.99 {
		t.Errorf("+2.0 clamped to %v, want ~1.0 (not wrapped)", l2[0])
	}
	if l2[1] > -0.99 {
		t.Errorf("-3.0 clamped to %v, want ~-1.0 (not wrapped)", l2[1])
	}
}

func TestDecompressRejectsMisalignedInput(t *testing.T) {
	if _, _, err := Decompress(make([]byte, 7)); err == nil {
		t.Error("expected error for misaligned input")
	}
}

// --- Resample ---

func TestResampleSameRateIsIdentity(t *testing.T) {
	in := sine(100, 440, 44100)
	out := Resample(in, 44100, 44100)
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
}

func TestResampleLength(t *testing.T) {
	tests := []struct {
		from, to int
		n        int
		want     int
	}{
		{48000, 44100, 48000, 44100},
		{22050, 44100, 22050, 44100},
		{44100, 48000, 44100, 48000},
	}
	for _, tt := range tests {
		out := Resample(sine(tt.n, 440, float64(tt.from)), tt.from, tt.to)
		if len(out) != tt.want {
			t.Errorf("Resample %d->%d of %d samples: got %d, want %d",
				tt.from, tt.to, tt.n, len(out), tt.want)
		}
	}
}

func TestResamplePreservesDC(t *testing.T) {
	in := make([]float64, 1000)
	for i := range in {
		in[i] = 0.75
	}
	out := Resample(in, 48000, 44100)
	for i, v := range out {
		if math.Abs(v-0.75) > 1e-9 {
			t.Fatalf("DC level broken at %d: %v", i, v)
		}
	}
}

// --- helpers ---

type wavOption func(*fmtChunk)

func withFormatTag(tag uint16) wavOption {
	return func(f *fmtChunk) { f.AudioFormat = tag }
}

func buildWAV(t *testing.T, channels, bits uint16, rate int, fmtSize uint32, pcm []byte, opts ...wavOption) []byte {
	t.Helper()
	f := fmtChunk{
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(rate),
		ByteRate:      uint32(rate) * uint32(channels) * uint32(bits) / 8,
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
	}
	for _, o := range opts {
		o(&f)
	}

	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(4+8+fmtSize+8+uint32(len(pcm))))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, fmtSize)
	binary.Write(buf, binary.LittleEndian, f)
	for i := uint32(16); i < fmtSize; i++ {
		buf.WriteByte(0)
	}
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
