package model

import "time"

// RemoteIngestRequest starts a pipeline run against a remote media source.
type RemoteIngestRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// JobStartResponse acknowledges an accepted pipeline job.
type JobStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobCancelResponse reports the outcome of a cancel request.
type JobCancelResponse struct {
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	Accepted bool      `json:"accepted"`
}

// RenameSongRequest renames a persisted song; the only record mutation.
type RenameSongRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

// MixerLoadRequest builds a session for one song.
type MixerLoadRequest struct {
	SongID string `json:"songId" validate:"required,uuid4"`
}

// TrackUpdateRequest adjusts one track's gain or mute flag.
type TrackUpdateRequest struct {
	Volume *float64 `json:"volume,omitempty"`
	Muted  *bool    `json:"muted,omitempty"`
}

// PitchRequest sets the shared pitch shift.
type PitchRequest struct {
	Semitones int `json:"semitones"`
}

// MasterVolumeRequest sets the master gain.
type MasterVolumeRequest struct {
	Volume float64 `json:"volume"`
}

// TransportRequest drives play/pause/stop/seek.
type TransportRequest struct {
	Action   TransportAction `json:"action" validate:"required"`
	Position *float64        `json:"position,omitempty"`
}

// ClockReportRequest is one external clock observation from the client's
// video surface.
type ClockReportRequest struct {
	Position float64 `json:"position" validate:"gte=0"`
	Playing  bool    `json:"playing"`
}

// TrackState is the visible state of one mixer track.
type TrackState struct {
	Volume  float64 `json:"volume"`
	Muted   bool    `json:"muted"`
	Errored bool    `json:"errored"`
}

// MixerStateResponse is the full snapshot a UI needs to render the mixer.
type MixerStateResponse struct {
	State        SessionState          `json:"state"`
	SongID       string                `json:"songId,omitempty"`
	Tracks       map[string]TrackState `json:"tracks"`
	Pitch        int                   `json:"pitchShiftSemitones"`
	MasterVolume float64               `json:"masterVolume"`
	Position     float64               `json:"transportPosition"`
	Duration     float64               `json:"durationSeconds"`
	Playing      bool                  `json:"playing"`
}

// SyncStateResponse reports the sync binding for display.
type SyncStateResponse struct {
	Bound       bool    `json:"bound"`
	LastDriftMs float64 `json:"lastDriftMs"`
	Corrections int64   `json:"corrections"`
	Detached    bool    `json:"detached"`
}

// ExportMixSettings selects per-track gains for an offline bounce.
type ExportMixSettings struct {
	Tracks       map[string]TrackState `json:"tracks,omitempty"`
	Pitch        int                   `json:"pitchShiftSemitones,omitempty"`
	MasterVolume *float64              `json:"masterVolume,omitempty"`
}

// ExportRequest renders a final mixed file for one song.
type ExportRequest struct {
	SongID string            `json:"songId" validate:"required,uuid4"`
	Format ExportFormat      `json:"format" validate:"required,oneof=wav mp3 flac aac"`
	Mix    ExportMixSettings `json:"mix"`
}

// ExportResponse points at the produced deliverable.
type ExportResponse struct {
	FileURL   string       `json:"fileUrl"`
	Format    ExportFormat `json:"format"`
	Size      int64        `json:"size"`
	ExpiresAt time.Time    `json:"expiresAt"`
}
