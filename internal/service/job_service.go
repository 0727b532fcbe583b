package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/pipeline"
)

const TaskTypeProcess = "pipeline:process"

// ProcessTask is the queue envelope for one pipeline job.
type ProcessTask struct {
	JobID   string                   `json:"jobId"`
	Payload *model.ProcessJobPayload `json:"payload"`
}

// JobService manages processing job lifecycle: queueing, the redis state
// mirror and cancellation of in-flight runs.
type JobService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	registry    *pipeline.Registry
	uploadDir   string
}

func NewJobService(redisClient *redis.Client, asynqClient *asynq.Client, registry *pipeline.Registry, uploadDir string) *JobService {
	return &JobService{
		redis:       redisClient,
		asynqClient: asynqClient,
		registry:    registry,
		uploadDir:   uploadDir,
	}
}

// StartRemote queues a processing job for a remote media locator.
func (s *JobService) StartRemote(ctx context.Context, req *model.RemoteIngestRequest) (*model.JobStartResponse, error) {
	return s.start(ctx, &model.ProcessJobPayload{
		Kind:    model.SourceRemote,
		Locator: req.URL,
	})
}

// StartUpload stages uploaded container bytes on disk and queues a
// processing job for them.
func (s *JobService) StartUpload(ctx context.Context, title string, data []byte) (*model.JobStartResponse, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	staged := filepath.Join(s.uploadDir, uuid.New().String()+".wav")
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	resp, err := s.start(ctx, &model.ProcessJobPayload{
		Kind:       model.SourceLocalUpload,
		Title:      title,
		UploadPath: staged,
	})
	if err != nil {
		os.Remove(staged)
		return nil, err
	}
	return resp, nil
}

func (s *JobService) start(ctx context.Context, payload *model.ProcessJobPayload) (*model.JobStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	job := &model.Job{
		ID:        jobID,
		Status:    model.JobStatusQueued,
		Stage:     model.StageIdle,
		Progress:  0,
		CreatedAt: now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	taskBytes, err := json.Marshal(&ProcessTask{JobID: jobID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	// Separation is expensive and not idempotent enough to retry blindly;
	// a failed run stays failed and the client decides.
	_, err = s.asynqClient.Enqueue(asynq.NewTask(TaskTypeProcess, taskBytes),
		asynq.Queue("pipeline"),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.JobStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetJob returns the mirrored state of one job.
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.getJob(ctx, jobID)
}

// Cancel requests cooperative cancellation. A running job is interrupted at
// its next stage boundary; a queued job is marked canceled immediately.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*model.JobCancelResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case model.JobStatusSucceeded, model.JobStatusFailed, model.JobStatusCanceled:
		return &model.JobCancelResponse{JobID: jobID, Status: job.Status, Accepted: false}, nil
	}

	if orch := s.registry.Get(jobID); orch != nil {
		// The worker observes the cancelled run and writes the final state.
		orch.RequestCancel()
		return &model.JobCancelResponse{JobID: jobID, Status: job.Status, Accepted: true}, nil
	}

	// Not running yet; mark it so the worker drops it on pickup.
	job.Status = model.JobStatusCanceled
	now := time.Now()
	job.CompletedAt = &now
	if err := s.saveJob(ctx, job); err != nil {
		return nil, err
	}
	return &model.JobCancelResponse{JobID: jobID, Status: model.JobStatusCanceled, Accepted: true}, nil
}

// UpdateJobProgress updates stage and progress (called by worker).
func (s *JobService) UpdateJobProgress(ctx context.Context, jobID string, progress int, stage model.Stage) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Progress = progress
	job.Stage = stage

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// CompleteJob marks a job succeeded with its produced song (called by worker).
func (s *JobService) CompleteJob(ctx context.Context, jobID, songID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusSucceeded
	job.Stage = model.StageIdle
	job.Progress = 100
	job.SongID = songID
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// FailJob marks a job failed (called by worker).
func (s *JobService) FailJob(ctx context.Context, jobID, errMsg string) error {
	return s.finishJob(ctx, jobID, model.JobStatusFailed, &errMsg)
}

// CancelJob marks a job canceled (called by worker when a run stops at a
// cancellation point).
func (s *JobService) CancelJob(ctx context.Context, jobID string) error {
	return s.finishJob(ctx, jobID, model.JobStatusCanceled, nil)
}

func (s *JobService) finishJob(ctx context.Context, jobID string, status model.JobStatus, errMsg *string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = status
	job.Stage = model.StageIdle
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// Helper methods

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, 24*time.Hour).Err()
}

func (s *JobService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("job not found")
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
