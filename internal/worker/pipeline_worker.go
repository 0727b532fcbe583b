package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/stemmix/api/internal/client"
	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/pipeline"
	"github.com/stemmix/api/internal/separator"
	"github.com/stemmix/api/internal/service"
	"github.com/stemmix/api/internal/store"
	"github.com/stemmix/api/internal/wav"
	"github.com/stemmix/api/internal/websocket"
	"github.com/stemmix/api/pkg/response"
)

// PipelineWorker runs processing jobs pulled off the queue. Each task gets
// its own orchestrator, registered for the job's lifetime so cancel
// requests can reach it.
type PipelineWorker struct {
	jobService *service.JobService
	registry   *pipeline.Registry
	fetcher    client.MediaFetcher
	engine     separator.Engine
	store      *store.Store
	hub        *websocket.Hub
}

// NewPipelineWorker creates a new pipeline worker
func NewPipelineWorker(jobService *service.JobService, registry *pipeline.Registry, fetcher client.MediaFetcher, engine separator.Engine, st *store.Store, hub *websocket.Hub) *PipelineWorker {
	return &PipelineWorker{
		jobService: jobService,
		registry:   registry,
		fetcher:    fetcher,
		engine:     engine,
		store:      st,
		hub:        hub,
	}
}

// ProcessTask handles one queued pipeline job.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task service.ProcessTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := task.JobID
	log.Printf("Starting pipeline job: %s", jobID)

	if task.Payload == nil {
		err := errors.New("pipeline task carries no payload")
		w.failJob(ctx, jobID, err)
		return err
	}

	// Skip jobs cancelled while still queued.
	if job, err := w.jobService.GetJob(ctx, jobID); err == nil && job.Status == model.JobStatusCanceled {
		log.Printf("Job %s was cancelled before pickup, skipping", jobID)
		return nil
	}

	orch := pipeline.NewOrchestrator(w.fetcher, w.engine, w.store)
	orch.SetObserver(func(stage model.Stage, progress int) {
		if stage == model.StageIdle {
			return
		}
		if err := w.jobService.UpdateJobProgress(ctx, jobID, progress, stage); err != nil {
			log.Printf("Failed to update job %s progress: %v", jobID, err)
		}
		w.hub.BroadcastProgress(jobID, progress, model.JobStatusRunning, stage)
	})

	w.registry.Add(jobID, orch)
	defer w.registry.Remove(jobID)

	songID, err := orch.Run(ctx, task.Payload)
	if err != nil {
		if errors.Is(err, pipeline.ErrCancelled) {
			log.Printf("Job %s cancelled", jobID)
			if cerr := w.jobService.CancelJob(ctx, jobID); cerr != nil {
				log.Printf("Failed to mark job %s cancelled: %v", jobID, cerr)
			}
			w.hub.BroadcastError(jobID, response.CodeJobFailed, "Job cancelled")
			return nil
		}
		w.failJob(ctx, jobID, err)
		return err
	}

	if err := w.jobService.CompleteJob(ctx, jobID, songID); err != nil {
		log.Printf("Failed to mark job %s complete: %v", jobID, err)
	}
	w.hub.BroadcastComplete(jobID, map[string]string{"songId": songID})
	log.Printf("Pipeline job %s completed, song %s", jobID, songID)
	return nil
}

func (w *PipelineWorker) failJob(ctx context.Context, jobID string, cause error) {
	message := cause.Error()
	if err := w.jobService.FailJob(ctx, jobID, message); err != nil {
		log.Printf("Failed to mark job %s failed: %v", jobID, err)
	}
	w.hub.BroadcastError(jobID, errorCode(cause), message)
}

// errorCode maps a run failure onto the API error code surfaced over the
// websocket.
func errorCode(err error) string {
	var quota *store.QuotaError
	switch {
	case errors.Is(err, wav.ErrInvalidContainer):
		return response.CodeInvalidContainer
	case errors.Is(err, separator.ErrEngineFailed):
		return response.CodeSeparationFailed
	case errors.As(err, &quota):
		return response.CodeStorageExhausted
	default:
		return response.CodeJobFailed
	}
}
