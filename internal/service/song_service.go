package service

import (
	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/store"
)

// SongService exposes the persisted catalog.
type SongService struct {
	store *store.Store
}

func NewSongService(st *store.Store) *SongService {
	return &SongService{store: st}
}

func (s *SongService) List() ([]model.SongSummary, error) {
	songs, err := s.store.List()
	if err != nil {
		return nil, err
	}
	if songs == nil {
		songs = []model.SongSummary{}
	}
	return songs, nil
}

func (s *SongService) Get(id string) (*model.SongSummary, error) {
	return s.store.GetSummary(id)
}

func (s *SongService) Rename(id, title string) error {
	return s.store.Rename(id, title)
}

func (s *SongService) Delete(id string) error {
	return s.store.Delete(id)
}

// StorageStatus reports byte usage against the configured quota.
type StorageStatus struct {
	UsedBytes  int64 `json:"usedBytes"`
	QuotaBytes int64 `json:"quotaBytes"`
}

func (s *SongService) Storage() (*StorageStatus, error) {
	used, err := s.store.Usage()
	if err != nil {
		return nil, err
	}
	return &StorageStatus{UsedBytes: used, QuotaBytes: s.store.Quota()}, nil
}
