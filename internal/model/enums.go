package model

// Pipeline stages
type Stage string

const (
	StageIdle        Stage = "idle"
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageSeparating  Stage = "separating"
	StageSaving      Stage = "saving"
)

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Song source kinds
type SourceKind string

const (
	SourceRemote      SourceKind = "remote"
	SourceLocalUpload SourceKind = "localUpload"
)

var ValidSourceKinds = []SourceKind{SourceRemote, SourceLocalUpload}

// Mixer session states
type SessionState string

const (
	SessionUnloaded   SessionState = "unloaded"
	SessionLoading    SessionState = "loading"
	SessionReady      SessionState = "ready"
	SessionLoadFailed SessionState = "loadFailed"
	SessionDisposed   SessionState = "disposed"
)

// Transport actions
type TransportAction string

const (
	TransportPlay  TransportAction = "play"
	TransportPause TransportAction = "pause"
	TransportStop  TransportAction = "stop"
	TransportSeek  TransportAction = "seek"
)

var ValidTransportActions = []TransportAction{
	TransportPlay, TransportPause, TransportStop, TransportSeek,
}

// Export formats
type ExportFormat string

const (
	ExportWAV  ExportFormat = "wav"
	ExportMP3  ExportFormat = "mp3"
	ExportFLAC ExportFormat = "flac"
	ExportAAC  ExportFormat = "aac"
)

var ValidExportFormats = []ExportFormat{ExportWAV, ExportMP3, ExportFLAC, ExportAAC}
