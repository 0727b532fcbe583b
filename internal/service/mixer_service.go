package service

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/stemmix/api/internal/mixer"
	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/store"
	"github.com/stemmix/api/internal/stream"
	"github.com/stemmix/api/internal/syncer"
)

// ErrNoSession is returned for mixer operations when nothing is loaded.
var ErrNoSession = errors.New("no mixer session")

// MixerService owns the single live session. Loading a new song
// force-disposes whatever was loaded before, so at most one render loop
// exists at any time.
type MixerService struct {
	store       *store.Store
	broadcaster *stream.Broadcaster
	sync        *syncer.Controller

	mu      sync.Mutex
	session *mixer.Session
}

func NewMixerService(st *store.Store, b *stream.Broadcaster, sc *syncer.Controller) *MixerService {
	return &MixerService{
		store:       st,
		broadcaster: b,
		sync:        sc,
	}
}

// Load builds a session for the song, replacing any existing one.
func (s *MixerService) Load(songID string) (*model.MixerStateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	song, err := s.store.Get(songID)
	if err != nil {
		return nil, err
	}

	if s.session != nil {
		log.Printf("Disposing previous mixer session for song %s", s.session.SongID())
		s.sync.Unbind()
		s.session.Dispose()
		s.session = nil
	}

	session := mixer.NewSession(s.broadcaster)
	if err := session.Load(song); err != nil {
		session.Dispose()
		return nil, fmt.Errorf("load session: %w", err)
	}
	s.session = session
	return session.Snapshot(), nil
}

// Unload disposes the current session. No-op when nothing is loaded.
func (s *MixerService) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return
	}
	s.sync.Unbind()
	s.session.Dispose()
	s.session = nil
}

// State returns the mixer snapshot; an unloaded placeholder when no
// session exists.
func (s *MixerService) State() *model.MixerStateResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return &model.MixerStateResponse{
			State:  model.SessionUnloaded,
			Tracks: map[string]model.TrackState{},
		}
	}
	return s.session.Snapshot()
}

func (s *MixerService) UpdateTrack(name string, req *model.TrackUpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNoSession
	}
	if req.Volume != nil {
		if err := s.session.SetTrackVolume(name, *req.Volume); err != nil {
			return err
		}
	}
	if req.Muted != nil {
		if err := s.session.SetTrackMuted(name, *req.Muted); err != nil {
			return err
		}
	}
	return nil
}

// SetPitch returns the effective (clamped) semitone value.
func (s *MixerService) SetPitch(semitones int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return 0, ErrNoSession
	}
	return s.session.SetPitch(semitones), nil
}

func (s *MixerService) SetMasterVolume(volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNoSession
	}
	s.session.SetMasterVolume(volume)
	return nil
}

func (s *MixerService) Transport(req *model.TransportRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNoSession
	}
	return s.session.Transport(req.Action, req.Position)
}

// SyncBind attaches the sync controller to the live session. Idempotent.
func (s *MixerService) SyncBind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNoSession
	}
	s.sync.Bind(s.session)
	return nil
}

// SyncUnbind detaches the sync controller. Safe without a binding.
func (s *MixerService) SyncUnbind() {
	s.sync.Unbind()
}

// SyncReport records one external clock observation.
func (s *MixerService) SyncReport(req *model.ClockReportRequest) error {
	if !s.sync.State().Bound {
		return errors.New("sync is not bound")
	}
	s.sync.Report(req.Position, req.Playing)
	return nil
}

// SyncState reports the binding status.
func (s *MixerService) SyncState() *model.SyncStateResponse {
	return s.sync.State()
}
