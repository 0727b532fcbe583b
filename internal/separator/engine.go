// Package separator defines the stem-separation engine boundary. The engine
// itself is a black box: it takes interleaved-split stereo PCM and returns
// four stems. Implementations cover a remote HTTP microservice and a local
// demucs binary; which one runs is a config decision, injected at startup.
package separator

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrEngineFailed wraps any failure inside the engine. Pipeline runs treat it
// as terminal; separation is never retried automatically.
var ErrEngineFailed = errors.New("separation engine failed")

// EngineState tracks the engine's explicit readiness lifecycle.
type EngineState string

const (
	EngineNotLoaded EngineState = "not_loaded"
	EngineLoading   EngineState = "loading"
	EngineReady     EngineState = "ready"
	EngineFailed    EngineState = "failed"
)

// Stem is one isolated channel pair.
type Stem struct {
	Left  []float64
	Right []float64
}

// StemSet is the engine's output: four stems sharing one sample rate and
// sample count.
type StemSet struct {
	Drums  Stem
	Bass   Stem
	Other  Stem
	Vocals Stem
}

// Validate checks the equal-length invariant across all four stems.
func (s *StemSet) Validate() error {
	n := len(s.Drums.Left)
	stems := map[string]Stem{
		"drums": s.Drums, "bass": s.Bass, "other": s.Other, "vocals": s.Vocals,
	}
	for name, stem := range stems {
		if len(stem.Left) == 0 || len(stem.Right) == 0 {
			return fmt.Errorf("stem %q is empty", name)
		}
		if len(stem.Left) != n || len(stem.Right) != n {
			return fmt.Errorf("stem %q length %d/%d does not match %d", name, len(stem.Left), len(stem.Right), n)
		}
	}
	return nil
}

// Engine separates a stereo mix into four stems.
type Engine interface {
	// EnsureReady performs one-time warm-up (model load, service health).
	// Safe to call repeatedly; only the first call does work.
	EnsureReady(ctx context.Context) error

	// State reports the current readiness of the engine.
	State() EngineState

	// Separate runs one separation. Both channels must be equal length at
	// the given sample rate. Any failure is terminal for the caller's run.
	Separate(ctx context.Context, left, right []float64, sampleRate int) (*StemSet, error)
}

// readiness implements the shared one-time warm-up state machine so each
// engine only supplies its warmUp func.
type readiness struct {
	mu    sync.Mutex
	state EngineState
}

func (r *readiness) State() EngineState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == "" {
		return EngineNotLoaded
	}
	return r.state
}

func (r *readiness) ensure(ctx context.Context, warmUp func(context.Context) error) error {
	r.mu.Lock()
	if r.state == EngineReady {
		r.mu.Unlock()
		return nil
	}
	r.state = EngineLoading
	r.mu.Unlock()

	err := warmUp(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = EngineFailed
		return fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}
	r.state = EngineReady
	return nil
}
