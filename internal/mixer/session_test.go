package mixer

import (
	"math"
	"testing"
	"time"

	"github.com/stemmix/api/internal/audio"
	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/pitch"
	"github.com/stemmix/api/internal/wav"
)

// newTestSession builds a session without a render loop so tests can call
// renderBlock deterministically.
func newTestSession() *Session {
	return &Session{
		state:  model.SessionUnloaded,
		tracks: make(map[string]*track),
		master: newRamp(1.0),
		pitchL: pitch.NewShifter(),
		pitchR: pitch.NewShifter(),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func render(s *Session) []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderBlock()
}

func sineStem(seconds float64) []byte {
	n := int(seconds * audio.SampleRate)
	left := make([]float64, n)
	right := make([]float64, n)
	for i := range left {
		left[i] = 0.25 * math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate)
		right[i] = left[i]
	}
	return wav.Compress(left, right)
}

func makeSong(seconds float64) *model.SongRecord {
	stem := sineStem(seconds)
	return &model.SongRecord{
		ID:              "11111111-1111-4111-8111-111111111111",
		Title:           "Fixture",
		DurationSeconds: seconds,
		SampleRate:      audio.SampleRate,
		Tracks: model.TrackSet{
			Drums:  stem,
			Bass:   stem,
			Other:  stem,
			Vocals: stem,
		},
	}
}

func TestLoadReady(t *testing.T) {
	s := newTestSession()
	if err := s.Load(makeSong(1.0)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.State() != model.SessionReady {
		t.Fatalf("state = %q, want ready", s.State())
	}
	snap := s.Snapshot()
	if len(snap.Tracks) != 4 {
		t.Errorf("tracks = %d, want 4", len(snap.Tracks))
	}
	for name, tr := range snap.Tracks {
		if tr.Volume != 1.0 || tr.Muted || tr.Errored {
			t.Errorf("track %q = %+v, want unity unmuted", name, tr)
		}
	}
}

func TestLoadPartialFailure(t *testing.T) {
	s := newTestSession()
	song := makeSong(0.5)
	song.Tracks.Vocals = []byte{1, 2, 3} // odd length, not valid PCM

	if err := s.Load(song); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.State() != model.SessionReady {
		t.Fatalf("state = %q, want ready", s.State())
	}
	snap := s.Snapshot()
	if !snap.Tracks[audio.StemVocals].Errored {
		t.Error("vocals should be errored")
	}
	if snap.Tracks[audio.StemDrums].Errored {
		t.Error("drums should not be errored")
	}
}

func TestLoadTotalFailure(t *testing.T) {
	s := newTestSession()
	song := makeSong(0.5)
	bad := []byte{1, 2, 3}
	song.Tracks = model.TrackSet{Drums: bad, Bass: bad, Other: bad, Vocals: bad}

	if err := s.Load(song); err == nil {
		t.Fatal("Load should fail when no track survives")
	}
	if s.State() != model.SessionLoadFailed {
		t.Fatalf("state = %q, want loadFailed", s.State())
	}
}

func TestControlClamping(t *testing.T) {
	s := newTestSession()
	if err := s.Load(makeSong(0.5)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := s.SetTrackVolume(audio.StemDrums, 5.0); err != nil {
		t.Fatalf("SetTrackVolume: %v", err)
	}
	if err := s.SetTrackVolume(audio.StemBass, -1.0); err != nil {
		t.Fatalf("SetTrackVolume: %v", err)
	}
	s.SetMasterVolume(3.0)

	snap := s.Snapshot()
	if got := snap.Tracks[audio.StemDrums].Volume; got != MaxTrackVolume {
		t.Errorf("drums volume = %f, want %f", got, MaxTrackVolume)
	}
	if got := snap.Tracks[audio.StemBass].Volume; got != MinTrackVolume {
		t.Errorf("bass volume = %f, want %f", got, MinTrackVolume)
	}
	if snap.MasterVolume != MaxMasterVolume {
		t.Errorf("master = %f, want %f", snap.MasterVolume, MaxMasterVolume)
	}

	if got := s.SetPitch(40); got != pitch.MaxSemitones {
		t.Errorf("pitch = %d, want %d", got, pitch.MaxSemitones)
	}
	if got := s.SetPitch(-40); got != pitch.MinSemitones {
		t.Errorf("pitch = %d, want %d", got, pitch.MinSemitones)
	}
}

func TestSetVolumeUnknownTrack(t *testing.T) {
	s := newTestSession()
	if err := s.Load(makeSong(0.5)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.SetTrackVolume("keys", 0.5); err == nil {
		t.Fatal("expected error for unknown track")
	}
}

func TestAllMutedRendersExactSilence(t *testing.T) {
	s := newTestSession()
	if err := s.Load(makeSong(1.0)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, name := range audio.StemNames {
		if err := s.SetTrackMuted(name, true); err != nil {
			t.Fatalf("SetTrackMuted(%s): %v", name, err)
		}
	}
	if err := s.Transport(model.TransportPlay, nil); err != nil {
		t.Fatalf("Transport: %v", err)
	}

	// Let the mute ramps complete, then check for bit-exact zeros.
	blocksForRamp := rampSamples/audio.FrameSize + 1
	for i := 0; i < blocksForRamp; i++ {
		render(s)
	}
	frame := render(s)
	for i, v := range frame {
		if v != 0 {
			t.Fatalf("sample %d = %d, want exact 0", i, v)
		}
	}
}

func silentStem(seconds float64) []byte {
	n := int(seconds * audio.SampleRate)
	return wav.Compress(make([]float64, n), make([]float64, n))
}

// Gain changes made while the transport is not running must apply without a
// ramp: a track zeroed before play may not leak into the first block.
func TestVolumeZeroBeforePlayIsolatesTrack(t *testing.T) {
	s := newTestSession()
	song := makeSong(1.0)
	quiet := silentStem(1.0)
	song.Tracks.Drums = quiet
	song.Tracks.Bass = quiet
	song.Tracks.Other = quiet

	if err := s.Load(song); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.SetTrackVolume(audio.StemVocals, 0); err != nil {
		t.Fatalf("SetTrackVolume: %v", err)
	}
	if err := s.Transport(model.TransportPlay, nil); err != nil {
		t.Fatalf("Transport: %v", err)
	}

	frame := render(s)
	for i, v := range frame {
		if v != 0 {
			t.Fatalf("sample %d = %d, want exact 0", i, v)
		}
	}
}

func TestMuteBeforePlaySilencesFirstBlock(t *testing.T) {
	s := newTestSession()
	if err := s.Load(makeSong(1.0)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, name := range audio.StemNames {
		if err := s.SetTrackMuted(name, true); err != nil {
			t.Fatalf("SetTrackMuted(%s): %v", name, err)
		}
	}
	if err := s.Transport(model.TransportPlay, nil); err != nil {
		t.Fatalf("Transport: %v", err)
	}

	frame := render(s)
	for i, v := range frame {
		if v != 0 {
			t.Fatalf("sample %d = %d, want exact 0", i, v)
		}
	}
}

func TestMasterVolumeBeforePlayAppliesImmediately(t *testing.T) {
	s := newTestSession()
	if err := s.Load(makeSong(1.0)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.SetMasterVolume(0)
	if err := s.Transport(model.TransportPlay, nil); err != nil {
		t.Fatalf("Transport: %v", err)
	}

	frame := render(s)
	for i, v := range frame {
		if v != 0 {
			t.Fatalf("sample %d = %d, want exact 0", i, v)
		}
	}
}

func TestUnmutedRendersSignal(t *testing.T) {
	s := newTestSession()
	if err := s.Load(makeSong(1.0)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Transport(model.TransportPlay, nil); err != nil {
		t.Fatalf("Transport: %v", err)
	}

	frame := render(s)
	nonZero := 0
	for _, v := range frame {
		if v != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Fatal("unmuted playback rendered silence")
	}
}

func TestTransport(t *testing.T) {
	s := newTestSession()
	if err := s.Load(makeSong(2.0)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	pos := 1.5
	if err := s.Transport(model.TransportSeek, &pos); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := s.Position(); math.Abs(got-1.5) > 0.001 {
		t.Errorf("position after seek = %f, want 1.5", got)
	}

	if err := s.Transport(model.TransportPlay, nil); err != nil {
		t.Fatalf("play: %v", err)
	}
	if !s.Playing() {
		t.Error("should be playing")
	}

	if err := s.Transport(model.TransportStop, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.Playing() {
		t.Error("should be stopped")
	}
	if got := s.Position(); got != 0 {
		t.Errorf("position after stop = %f, want 0", got)
	}

	if err := s.Transport(model.TransportSeek, nil); err == nil {
		t.Error("seek without position should fail")
	}
}

// Seeking must flush the pitch shifters, or up to one analysis window of
// pre-seek audio plays at the new position.
func TestSeekDropsBufferedShifterAudio(t *testing.T) {
	s := newTestSession()

	// Vocals: first half sine, second half silence. Everything else silent.
	n := audio.SampleRate
	left := make([]float64, n)
	right := make([]float64, n)
	for i := 0; i < n/2; i++ {
		left[i] = 0.25 * math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate)
		right[i] = left[i]
	}
	song := makeSong(1.0)
	quiet := silentStem(1.0)
	song.Tracks.Drums = quiet
	song.Tracks.Bass = quiet
	song.Tracks.Other = quiet
	song.Tracks.Vocals = wav.Compress(left, right)

	if err := s.Load(song); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.SetPitch(2)
	if err := s.Transport(model.TransportPlay, nil); err != nil {
		t.Fatalf("play: %v", err)
	}

	// Fill the shifters with sine material.
	for i := 0; i < 10; i++ {
		render(s)
	}

	// Jump into the silent half and render.
	pos := 0.75
	if err := s.Transport(model.TransportSeek, &pos); err != nil {
		t.Fatalf("seek: %v", err)
	}
	frame := render(s)
	for i, v := range frame {
		if v != 0 {
			t.Fatalf("sample %d = %d after seek into silence, want 0", i, v)
		}
	}
}

func TestTransportBeforeLoad(t *testing.T) {
	s := newTestSession()
	if err := s.Transport(model.TransportPlay, nil); err == nil {
		t.Fatal("transport on unloaded session should fail")
	}
}

func TestSeekClampsToSongBounds(t *testing.T) {
	s := newTestSession()
	if err := s.Load(makeSong(1.0)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Seek(-5)
	if got := s.Position(); got != 0 {
		t.Errorf("position = %f, want 0", got)
	}
	s.Seek(100)
	if got := s.Position(); math.Abs(got-1.0) > 0.001 {
		t.Errorf("position = %f, want 1.0", got)
	}
}

func TestPlaybackStopsAtEnd(t *testing.T) {
	s := newTestSession()
	if err := s.Load(makeSong(0.1)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Transport(model.TransportPlay, nil); err != nil {
		t.Fatalf("play: %v", err)
	}

	blocks := int(0.1*audio.SampleRate)/audio.FrameSize + 2
	for i := 0; i < blocks; i++ {
		render(s)
	}
	if s.Playing() {
		t.Error("transport should stop at the end of the song")
	}
	if got := s.Position(); math.Abs(got-0.1) > 0.001 {
		t.Errorf("position at end = %f, want 0.1", got)
	}
}

func TestDisposeIdempotent(t *testing.T) {
	s := NewSession(nil)
	if err := s.Load(makeSong(0.25)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Dispose()
		s.Dispose()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Dispose did not return")
	}

	if s.State() != model.SessionDisposed {
		t.Fatalf("state = %q, want disposed", s.State())
	}
	if err := s.Load(makeSong(0.25)); err == nil {
		t.Error("Load after Dispose should fail")
	}
}

func TestBounceMatchesSettings(t *testing.T) {
	song := makeSong(0.5)

	// Mute everything except drums at half gain.
	mix := &model.ExportMixSettings{
		Tracks: map[string]model.TrackState{
			audio.StemDrums:  {Volume: 0.5},
			audio.StemBass:   {Volume: 1, Muted: true},
			audio.StemOther:  {Volume: 1, Muted: true},
			audio.StemVocals: {Volume: 1, Muted: true},
		},
	}
	left, right, err := Bounce(song, mix)
	if err != nil {
		t.Fatalf("Bounce: %v", err)
	}
	if len(left) != len(right) {
		t.Fatalf("channel length mismatch %d/%d", len(left), len(right))
	}

	// Reference: the drums stem alone at half gain.
	refL, _, err := wav.Decompress(song.Tracks.Drums)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(left) != len(refL) {
		t.Fatalf("length = %d, want %d", len(left), len(refL))
	}
	for i := range left {
		if math.Abs(left[i]-refL[i]*0.5) > 1e-9 {
			t.Fatalf("sample %d = %f, want %f", i, left[i], refL[i]*0.5)
		}
	}
}

func TestBounceAllMutedFails(t *testing.T) {
	song := makeSong(0.25)
	muted := model.TrackState{Volume: 1, Muted: true}
	mix := &model.ExportMixSettings{
		Tracks: map[string]model.TrackState{
			audio.StemDrums: muted, audio.StemBass: muted,
			audio.StemOther: muted, audio.StemVocals: muted,
		},
	}
	if _, _, err := Bounce(song, mix); err == nil {
		t.Fatal("expected error when every track is muted")
	}
}
