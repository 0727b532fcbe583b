// Package pipeline runs one media item through download, extraction,
// separation and persistence, reporting a single weighted progress figure
// across the stages. A run is all-or-nothing: nothing is persisted unless
// every stage finished.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemmix/api/internal/audio"
	"github.com/stemmix/api/internal/client"
	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/separator"
	"github.com/stemmix/api/internal/store"
	"github.com/stemmix/api/internal/wav"
)

// Progress band boundaries. Each stage reports into its own band so the
// overall figure only ever moves forward.
const (
	progressDownloadEnd = 10
	progressExtractEnd  = 25
	progressSeparateEnd = 90
	progressDone        = 100
)

// ErrCancelled marks a run stopped by an explicit cancel request. Cancel is
// cooperative: the current stage finishes or aborts on its own context, and
// the boundary check stops the run.
var ErrCancelled = errors.New("pipeline run cancelled")

// ErrBusy is returned when Run is called while a run is already in flight.
var ErrBusy = errors.New("pipeline is busy")

// Observer receives every stage/progress transition. Called synchronously
// from the run goroutine, so it must not block.
type Observer func(stage model.Stage, progress int)

// Orchestrator owns the stage machine for processing runs. One run at a
// time; all state mutation goes through advance.
type Orchestrator struct {
	fetcher client.MediaFetcher
	engine  separator.Engine
	store   *store.Store

	mu        sync.Mutex
	stage     model.Stage
	progress  int
	running   bool
	cancelled bool
	cancel    context.CancelFunc
	observer  Observer
}

func NewOrchestrator(fetcher client.MediaFetcher, engine separator.Engine, st *store.Store) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		engine:  engine,
		store:   st,
		stage:   model.StageIdle,
	}
}

// SetObserver registers the transition callback. Must be set before Run.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observer = obs
}

// Stage returns the current stage.
func (o *Orchestrator) Stage() model.Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// Progress returns the current overall progress in percent.
func (o *Orchestrator) Progress() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// RequestCancel flags the run for cancellation and interrupts the stage in
// flight. Safe to call at any time, including when no run is active.
func (o *Orchestrator) RequestCancel() {
	o.mu.Lock()
	o.cancelled = true
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// advance moves the stage machine forward. Progress is clamped so it never
// decreases within a run; the observer sees every accepted transition.
func (o *Orchestrator) advance(stage model.Stage, progress int) {
	o.mu.Lock()
	if progress < o.progress && stage != model.StageIdle {
		progress = o.progress
	}
	o.stage = stage
	o.progress = progress
	obs := o.observer
	o.mu.Unlock()
	if obs != nil {
		obs(stage, progress)
	}
}

// interrupted reports whether the run should stop at a stage boundary.
func (o *Orchestrator) interrupted(ctx context.Context) error {
	o.mu.Lock()
	c := o.cancelled
	o.mu.Unlock()
	if c || errors.Is(ctx.Err(), context.Canceled) {
		return ErrCancelled
	}
	return ctx.Err()
}

// Run executes one full pipeline pass and returns the persisted song ID.
// Returns ErrCancelled if the run was stopped by RequestCancel, and wraps
// wav.ErrInvalidContainer, separator.ErrEngineFailed or store.QuotaError
// for the stage-specific failures.
func (o *Orchestrator) Run(ctx context.Context, payload *model.ProcessJobPayload) (string, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return "", ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancelled = false
	o.cancel = cancel
	o.progress = 0
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.running = false
		o.cancel = nil
		o.mu.Unlock()
		o.advance(model.StageIdle, o.Progress())
	}()

	// Stage 1: acquire the media bytes.
	media, title, err := o.acquire(runCtx, payload)
	if err != nil {
		return "", err
	}
	if err := o.interrupted(runCtx); err != nil {
		return "", err
	}

	// Stage 2: decode the container into the canonical working format.
	o.advance(model.StageExtracting, progressDownloadEnd)
	left, right, rate, err := wav.DecodeContainer(media)
	if err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}
	if rate != audio.SampleRate {
		o.advance(model.StageExtracting, (progressDownloadEnd+progressExtractEnd)/2)
		left = wav.Resample(left, rate, audio.SampleRate)
		right = wav.Resample(right, rate, audio.SampleRate)
	}
	if err := o.interrupted(runCtx); err != nil {
		return "", err
	}

	// Stage 3: separation. The engine gets the run context so a cancel
	// interrupts it rather than waiting for completion.
	o.advance(model.StageSeparating, progressExtractEnd)
	if err := o.engine.EnsureReady(runCtx); err != nil {
		return "", o.mapSeparationErr(runCtx, err)
	}
	o.advance(model.StageSeparating, progressExtractEnd+5)
	stems, err := o.engine.Separate(runCtx, left, right, audio.SampleRate)
	if err != nil {
		return "", o.mapSeparationErr(runCtx, err)
	}
	if err := stems.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", separator.ErrEngineFailed, err)
	}
	if err := o.interrupted(runCtx); err != nil {
		return "", err
	}

	// Stage 4: persist. All four stems plus the original container land
	// together or not at all.
	o.advance(model.StageSaving, progressSeparateEnd)
	rec := &model.SongRecord{
		ID:              uuid.New().String(),
		Title:           title,
		SourceKind:      payload.Kind,
		SourceRef:       payload.Locator,
		DurationSeconds: wav.Duration(len(left), audio.SampleRate),
		SampleRate:      audio.SampleRate,
		CreatedAt:       time.Now(),
		Tracks: model.TrackSet{
			Drums:  wav.Compress(stems.Drums.Left, stems.Drums.Right),
			Bass:   wav.Compress(stems.Bass.Left, stems.Bass.Right),
			Other:  wav.Compress(stems.Other.Left, stems.Other.Right),
			Vocals: wav.Compress(stems.Vocals.Left, stems.Vocals.Right),
		},
		OriginalMedia: media,
	}
	if err := o.store.Save(rec); err != nil {
		return "", fmt.Errorf("save: %w", err)
	}

	if payload.UploadPath != "" {
		os.Remove(payload.UploadPath)
	}

	o.advance(model.StageSaving, progressDone)
	return rec.ID, nil
}

// acquire produces the raw container bytes for the run. Remote sources go
// through the download stage; local uploads were already staged on disk and
// skip straight past the download band.
func (o *Orchestrator) acquire(ctx context.Context, payload *model.ProcessJobPayload) ([]byte, string, error) {
	title := payload.Title

	switch payload.Kind {
	case model.SourceRemote:
		o.advance(model.StageDownloading, 0)
		resolved, err := o.fetcher.Resolve(ctx, payload.Locator)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, "", ErrCancelled
			}
			return nil, "", fmt.Errorf("resolve media: %w", err)
		}
		if title == "" {
			title = resolved.Title
		}
		o.advance(model.StageDownloading, progressDownloadEnd/2)
		media, err := o.fetcher.Download(ctx, resolved.DownloadURL)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, "", ErrCancelled
			}
			return nil, "", fmt.Errorf("download media: %w", err)
		}
		if title == "" {
			title = "Untitled"
		}
		return media, title, nil

	case model.SourceLocalUpload:
		media, err := os.ReadFile(payload.UploadPath)
		if err != nil {
			return nil, "", fmt.Errorf("read staged upload: %w", err)
		}
		if title == "" {
			title = "Untitled"
		}
		return media, title, nil

	default:
		return nil, "", fmt.Errorf("unknown source kind %q", payload.Kind)
	}
}

// mapSeparationErr folds a cancel-driven engine abort into ErrCancelled and
// tags everything else as an engine failure.
func (o *Orchestrator) mapSeparationErr(ctx context.Context, err error) error {
	o.mu.Lock()
	c := o.cancelled
	o.mu.Unlock()
	if c || errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return ErrCancelled
	}
	if errors.Is(err, separator.ErrEngineFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", separator.ErrEngineFailed, err)
}
