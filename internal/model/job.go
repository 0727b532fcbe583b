package model

import "time"

// Job is the externally visible state of one processing job, mirrored to
// redis for polling and pushed over the websocket hub.
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Stage       Stage      `json:"stage"`
	Progress    int        `json:"progress"`
	Error       *string    `json:"error,omitempty"`
	SongID      string     `json:"songId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Job task type
const JobTypeProcess = "process"

// ProcessJobPayload carries what a worker needs to run one pipeline job.
// Uploaded bytes are staged on disk and referenced by path so the queue
// payload stays small.
type ProcessJobPayload struct {
	Kind       SourceKind `json:"kind"`
	Title      string     `json:"title,omitempty"`
	Locator    string     `json:"locator,omitempty"`
	UploadPath string     `json:"uploadPath,omitempty"`
}
