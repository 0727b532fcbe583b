package model

import "time"

// TrackSet holds the four persisted stems of one song, each as compact
// interleaved s16le bytes. A set with a missing stem is invalid and must
// never be persisted.
type TrackSet struct {
	Drums  []byte
	Bass   []byte
	Other  []byte
	Vocals []byte
}

// Stems returns the set keyed by stem name, in persistence order.
func (t *TrackSet) Stems() map[string][]byte {
	return map[string][]byte{
		"drums":  t.Drums,
		"bass":   t.Bass,
		"other":  t.Other,
		"vocals": t.Vocals,
	}
}

// Complete reports whether all four stems are present and equally sized.
func (t *TrackSet) Complete() bool {
	if len(t.Drums) == 0 || len(t.Bass) == 0 || len(t.Other) == 0 || len(t.Vocals) == 0 {
		return false
	}
	n := len(t.Drums)
	return len(t.Bass) == n && len(t.Other) == n && len(t.Vocals) == n
}

// TotalBytes is the storage footprint of all four stems.
func (t *TrackSet) TotalBytes() int64 {
	return int64(len(t.Drums) + len(t.Bass) + len(t.Other) + len(t.Vocals))
}

// SongRecord is the durable result of one successful pipeline run.
type SongRecord struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	SourceKind      SourceKind `json:"sourceKind"`
	SourceRef       string     `json:"sourceRef,omitempty"`
	DurationSeconds float64    `json:"durationSeconds"`
	SampleRate      int        `json:"sampleRate"`
	CreatedAt       time.Time  `json:"createdAt"`

	Tracks TrackSet `json:"-"`

	// OriginalMedia keeps the source container bytes when they are needed
	// for a final muxed export. Optional.
	OriginalMedia []byte `json:"-"`
}

// SongSummary is the listing view of a record; stems stay on disk.
type SongSummary struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	SourceKind      SourceKind `json:"sourceKind"`
	SourceRef       string     `json:"sourceRef,omitempty"`
	DurationSeconds float64    `json:"durationSeconds"`
	SampleRate      int        `json:"sampleRate"`
	CreatedAt       time.Time  `json:"createdAt"`
	HasOriginal     bool       `json:"hasOriginal"`
	SizeBytes       int64      `json:"sizeBytes"`
}
