// Package mixer renders the four stems of one song into a stereo output
// block by block, applying per-track gain and mute, a shared pitch shift and
// a master gain. One session is live at a time; parameter changes take
// effect on the next block through short ramps instead of hard steps.
package mixer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stemmix/api/internal/audio"
	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/pitch"
	"github.com/stemmix/api/internal/stream"
	"github.com/stemmix/api/internal/wav"
)

const (
	MinTrackVolume  = 0.0
	MaxTrackVolume  = 2.0
	MinMasterVolume = 0.0
	MaxMasterVolume = 1.0

	// Gain changes ramp over 30ms to avoid clicks.
	rampSamples = audio.SampleRate * 30 / 1000

	frameInterval = 20 * time.Millisecond
)

var (
	ErrDisposed     = errors.New("mixer session is disposed")
	ErrNotReady     = errors.New("mixer session is not ready")
	ErrUnknownTrack = errors.New("unknown track")
)

// ramp slews a control value linearly toward its target. Advances one step
// per sample and lands exactly on the target at the end of the ramp.
type ramp struct {
	current   float64
	target    float64
	step      float64
	remaining int
}

func newRamp(v float64) ramp {
	return ramp{current: v, target: v}
}

func (r *ramp) set(target float64) {
	r.target = target
	r.remaining = rampSamples
	r.step = (target - r.current) / float64(rampSamples)
}

// snap applies the target without a ramp. Used when the transport is not
// running, where a slew would leak the old value into the first block of the
// next playback.
func (r *ramp) snap(target float64) {
	r.current = target
	r.target = target
	r.step = 0
	r.remaining = 0
}

func (r *ramp) next() float64 {
	if r.remaining > 0 {
		r.remaining--
		if r.remaining == 0 {
			r.current = r.target
		} else {
			r.current += r.step
		}
	}
	return r.current
}

// track is one stem's playback state. An errored track renders silence but
// keeps its controls so the UI can still show it.
type track struct {
	left    []float64
	right   []float64
	volume  ramp
	muteAmp ramp // 1 audible, 0 muted
	muted   bool
	errored bool
}

// Session holds the mixer graph for one loaded song. All mutation happens
// under mu; the render goroutine takes the same lock per block, so control
// changes are block-aligned.
type Session struct {
	mu          sync.Mutex
	state       model.SessionState
	songID      string
	duration    float64
	length      int // samples per channel
	tracks      map[string]*track
	master      ramp
	pitchL      *pitch.Shifter
	pitchR      *pitch.Shifter
	playing     bool
	cursor      int
	broadcaster *stream.Broadcaster

	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSession creates an unloaded session and starts its render loop. Frames
// go to the broadcaster (may be nil) at the block rate whether or not
// anything is playing, so live listeners never starve.
func NewSession(b *stream.Broadcaster) *Session {
	s := &Session{
		state:       model.SessionUnloaded,
		tracks:      make(map[string]*track),
		master:      newRamp(1.0),
		pitchL:      pitch.NewShifter(),
		pitchR:      pitch.NewShifter(),
		broadcaster: b,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// Load decompresses the song's stems into playback buffers. A stem that
// fails to decompress becomes an errored track; the session only fails when
// no track survives.
func (s *Session) Load(song *model.SongRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == model.SessionDisposed {
		return ErrDisposed
	}
	s.state = model.SessionLoading
	s.songID = song.ID
	s.duration = song.DurationSeconds
	s.tracks = make(map[string]*track)
	s.cursor = 0
	s.playing = false
	s.length = 0

	survivors := 0
	for name, data := range song.Tracks.Stems() {
		tr := &track{volume: newRamp(1.0), muteAmp: newRamp(1.0)}
		left, right, err := wav.Decompress(data)
		if err != nil {
			tr.errored = true
		} else {
			tr.left, tr.right = left, right
			if len(left) > s.length {
				s.length = len(left)
			}
			survivors++
		}
		s.tracks[name] = tr
	}

	if survivors == 0 {
		s.state = model.SessionLoadFailed
		return fmt.Errorf("no track in song %s could be loaded", song.ID)
	}
	s.state = model.SessionReady
	return nil
}

// SetTrackVolume sets one track's gain, clamped to [0, 2].
func (s *Session) SetTrackVolume(name string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.tracks[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTrack, name)
	}
	v = clamp(v, MinTrackVolume, MaxTrackVolume)
	if s.playing {
		tr.volume.set(v)
	} else {
		tr.volume.snap(v)
	}
	return nil
}

// SetTrackMuted toggles one track's mute.
func (s *Session) SetTrackMuted(name string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.tracks[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTrack, name)
	}
	if tr.muted == muted {
		return nil
	}
	tr.muted = muted
	amp := 1.0
	if muted {
		amp = 0
	}
	if s.playing {
		tr.muteAmp.set(amp)
	} else {
		tr.muteAmp.snap(amp)
	}
	return nil
}

// SetPitch sets the shared pitch shift in semitones. Out-of-range values
// clamp; the effective value is returned.
func (s *Session) SetPitch(semitones int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pitchL.SetSemitones(semitones)
	s.pitchR.SetSemitones(semitones)
	return s.pitchL.Semitones()
}

// SetMasterVolume sets the output gain, clamped to [0, 1].
func (s *Session) SetMasterVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v = clamp(v, MinMasterVolume, MaxMasterVolume)
	if s.playing {
		s.master.set(v)
	} else {
		s.master.snap(v)
	}
}

// Transport applies one transport action. Seek requires a position.
func (s *Session) Transport(action model.TransportAction, position *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.SessionReady {
		return ErrNotReady
	}
	switch action {
	case model.TransportPlay:
		s.playing = true
	case model.TransportPause:
		s.playing = false
	case model.TransportStop:
		s.playing = false
		s.seekLocked(0)
	case model.TransportSeek:
		if position == nil {
			return errors.New("seek requires a position")
		}
		s.seekLocked(*position)
	default:
		return fmt.Errorf("unknown transport action %q", action)
	}
	return nil
}

// Seek moves the playhead to the given position in seconds.
func (s *Session) Seek(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekLocked(seconds)
}

func (s *Session) seekLocked(seconds float64) {
	cursor := int(seconds * audio.SampleRate)
	if cursor < 0 {
		cursor = 0
	}
	if cursor > s.length {
		cursor = s.length
	}
	s.cursor = cursor
	// The shifters buffer up to one analysis window of audio; flush it so
	// nothing from before the jump plays at the new position.
	s.pitchL.Reset()
	s.pitchR.Reset()
}

// Position returns the playhead in seconds.
func (s *Session) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.cursor) / audio.SampleRate
}

// Playing reports whether the transport is running.
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// SongID returns the loaded song's ID, empty when unloaded.
func (s *Session) SongID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.songID
}

// Snapshot returns the full mixer state for the API.
func (s *Session) Snapshot() *model.MixerStateResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracks := make(map[string]model.TrackState, len(s.tracks))
	for name, tr := range s.tracks {
		tracks[name] = model.TrackState{
			Volume:  tr.volume.target,
			Muted:   tr.muted,
			Errored: tr.errored,
		}
	}
	return &model.MixerStateResponse{
		State:        s.state,
		SongID:       s.songID,
		Tracks:       tracks,
		Pitch:        s.pitchL.Semitones(),
		MasterVolume: s.master.target,
		Position:     float64(s.cursor) / audio.SampleRate,
		Duration:     s.duration,
		Playing:      s.playing,
	}
}

// Dispose stops the render loop and releases the session. Idempotent.
func (s *Session) Dispose() {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = model.SessionDisposed
		s.playing = false
		s.tracks = make(map[string]*track)
		s.mu.Unlock()
		close(s.quit)
		<-s.done
	})
}

// State returns the session lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) run() {
	defer close(s.done)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := s.renderBlock()
			b := s.broadcaster
			s.mu.Unlock()
			if b != nil {
				b.Publish(frame)
			}
		}
	}
}

// renderBlock produces one 20ms interleaved stereo frame. Caller holds mu.
func (s *Session) renderBlock() []int16 {
	frame := make([]int16, audio.FrameSamples)
	if s.state != model.SessionReady || !s.playing {
		return frame
	}

	mixL := make([]float64, audio.FrameSize)
	mixR := make([]float64, audio.FrameSize)
	for _, tr := range s.tracks {
		if tr.errored {
			continue
		}
		for i := 0; i < audio.FrameSize; i++ {
			g := tr.volume.next() * tr.muteAmp.next()
			idx := s.cursor + i
			if idx >= len(tr.left) {
				continue
			}
			mixL[i] += tr.left[idx] * g
			mixR[i] += tr.right[idx] * g
		}
	}

	mixL = s.pitchL.Process(mixL)
	mixR = s.pitchR.Process(mixR)

	for i := 0; i < audio.FrameSize; i++ {
		m := s.master.next()
		frame[2*i] = clip16(mixL[i] * m)
		frame[2*i+1] = clip16(mixR[i] * m)
	}

	s.cursor += audio.FrameSize
	if s.cursor >= s.length {
		s.cursor = s.length
		s.playing = false
	}
	return frame
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clip16(v float64) int16 {
	q := v * 32768
	if q > 32767 {
		return 32767
	}
	if q < -32768 {
		return -32768
	}
	return int16(q)
}
