// Package syncer keeps the mixer transport locked to an external playback
// clock. The client reports the clock it observes; the controller compares
// it against the deck on a fixed cadence and issues a corrective seek when
// drift crosses the threshold. When reports stop arriving the controller
// detaches and lets the deck free-run instead of seeking against stale data.
package syncer

import (
	"sync"
	"time"

	"github.com/stemmix/api/internal/model"
)

// Deck is the transport the controller steers.
type Deck interface {
	Position() float64
	Playing() bool
	Seek(seconds float64)
	Transport(action model.TransportAction, position *float64) error
}

type report struct {
	position float64
	playing  bool
	at       time.Time
}

// Controller reconciles one deck against one external clock.
type Controller struct {
	interval  time.Duration
	threshold time.Duration
	stale     time.Duration

	mu          sync.Mutex
	deck        Deck
	last        *report
	lastDriftMs float64
	corrections int64
	detached    bool
	quit        chan struct{}
	done        chan struct{}
}

func NewController(interval, threshold, stale time.Duration) *Controller {
	return &Controller{
		interval:  interval,
		threshold: threshold,
		stale:     stale,
	}
}

// Bind attaches a deck and starts the reconcile loop. Binding the same deck
// again is a no-op; binding a different deck replaces it.
func (c *Controller) Bind(deck Deck) {
	c.mu.Lock()
	if c.deck == deck {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.deck = deck
	c.last = nil
	c.lastDriftMs = 0
	c.corrections = 0
	c.detached = false
	c.quit = make(chan struct{})
	c.done = make(chan struct{})
	quit, done := c.quit, c.done
	c.mu.Unlock()

	go c.loop(quit, done)
}

// Unbind stops reconciliation. Safe to call when nothing is bound.
func (c *Controller) Unbind() {
	c.mu.Lock()
	c.stopLocked()
	c.deck = nil
	c.last = nil
	c.mu.Unlock()
}

func (c *Controller) stopLocked() {
	if c.quit != nil {
		close(c.quit)
		c.mu.Unlock()
		<-c.done
		c.mu.Lock()
		c.quit = nil
		c.done = nil
	}
}

// Report records one external clock observation.
func (c *Controller) Report(position float64, playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &report{position: position, playing: playing, at: time.Now()}
}

// State returns the binding's observable state.
func (c *Controller) State() *model.SyncStateResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &model.SyncStateResponse{
		Bound:       c.deck != nil,
		LastDriftMs: c.lastDriftMs,
		Corrections: c.corrections,
		Detached:    c.detached,
	}
}

func (c *Controller) loop(quit, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			c.Reconcile(time.Now())
		}
	}
}

// Reconcile runs one comparison pass against the clock state as of now.
// Exposed so the cadence can be driven externally.
func (c *Controller) Reconcile(now time.Time) {
	c.mu.Lock()
	deck := c.deck
	last := c.last
	c.mu.Unlock()

	if deck == nil || last == nil {
		return
	}

	if now.Sub(last.at) > c.stale {
		c.mu.Lock()
		c.detached = true
		c.mu.Unlock()
		return
	}

	// Project the external clock forward from the last report.
	external := last.position
	if last.playing {
		external += now.Sub(last.at).Seconds()
	}

	if last.playing != deck.Playing() {
		if last.playing {
			deck.Transport(model.TransportPlay, nil)
		} else {
			deck.Transport(model.TransportPause, nil)
		}
	}

	drift := external - deck.Position()
	driftMs := drift * 1000
	if driftMs < 0 {
		driftMs = -driftMs
	}

	corrected := false
	if driftMs > float64(c.threshold)/float64(time.Millisecond) {
		deck.Seek(external)
		corrected = true
	}

	c.mu.Lock()
	c.detached = false
	c.lastDriftMs = driftMs
	if corrected {
		c.corrections++
	}
	c.mu.Unlock()
}
