package mixer

import (
	"errors"

	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/pitch"
	"github.com/stemmix/api/internal/wav"
)

// Bounce renders a song's stems offline into one stereo pair with static
// mix settings. Tracks missing from the settings play at unity gain
// unmuted; stems that fail to decompress are skipped.
func Bounce(song *model.SongRecord, mix *model.ExportMixSettings) (left, right []float64, err error) {
	length := 0
	type loaded struct {
		left, right []float64
		gain        float64
	}
	var stems []loaded

	for name, data := range song.Tracks.Stems() {
		gain := 1.0
		if mix != nil {
			if st, ok := mix.Tracks[name]; ok {
				if st.Muted {
					continue
				}
				gain = clamp(st.Volume, MinTrackVolume, MaxTrackVolume)
			}
		}
		if gain == 0 {
			continue
		}
		l, r, derr := wav.Decompress(data)
		if derr != nil {
			continue
		}
		if len(l) > length {
			length = len(l)
		}
		stems = append(stems, loaded{left: l, right: r, gain: gain})
	}
	if length == 0 {
		return nil, nil, errors.New("no playable track to bounce")
	}

	left = make([]float64, length)
	right = make([]float64, length)
	for _, st := range stems {
		for i := range st.left {
			left[i] += st.left[i] * st.gain
			right[i] += st.right[i] * st.gain
		}
	}

	if mix != nil && mix.Pitch != 0 {
		left = shiftOffline(left, mix.Pitch)
		right = shiftOffline(right, mix.Pitch)
	}

	master := 1.0
	if mix != nil && mix.MasterVolume != nil {
		master = clamp(*mix.MasterVolume, MinMasterVolume, MaxMasterVolume)
	}
	if master != 1.0 {
		for i := range left {
			left[i] *= master
			right[i] *= master
		}
	}
	return left, right, nil
}

// shiftOffline runs the streaming shifter over a whole channel, feeding
// trailing silence and dropping the warm-up delay so the output lines up
// with the input.
func shiftOffline(samples []float64, semitones int) []float64 {
	sh := pitch.NewShifter()
	sh.SetSemitones(semitones)

	padded := make([]float64, len(samples)+pitch.Latency)
	copy(padded, samples)
	out := sh.Process(padded)
	if len(out) <= pitch.Latency {
		return samples
	}
	return out[pitch.Latency : pitch.Latency+len(samples)]
}
