// Package fps tracks elapsed time and frame throughput of the capture loop.
package fps

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrNotStopped is returned by ComputeFPS while the tracker is still running.
var ErrNotStopped = errors.New("fps tracker has not been stopped")

// Stats is a point-in-time reading of a Tracker.
type Stats struct {
	Frames  int
	Elapsed time.Duration
	FPS     float64
}

// Tracker counts frames between Start and Stop.
// It is safe to read from other goroutines while the loop updates it.
type Tracker struct {
	clk clock.Clock

	mu      sync.RWMutex
	start   time.Time
	end     time.Time
	frames  int
	running bool
	stopped bool
}

// New returns a tracker reading time from clk. A nil clk means the wall clock.
func New(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{clk: clk}
}

// Start resets the frame count and records the start time.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = t.clk.Now()
	t.end = time.Time{}
	t.frames = 0
	t.running = true
	t.stopped = false
}

// Update counts one processed frame.
func (t *Tracker) Update() {
	t.mu.Lock()
	t.frames++
	t.mu.Unlock()
}

// Stop freezes the elapsed time. Calling it again has no effect.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.running {
		t.end = t.clk.Now()
	}
	t.running = false
	t.stopped = true
}

// Frames returns the number of frames counted since Start.
func (t *Tracker) Frames() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frames
}

// Elapsed returns the time between Start and Stop, or until now while running.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.elapsedLocked()
}

func (t *Tracker) elapsedLocked() time.Duration {
	switch {
	case t.running:
		return t.clk.Since(t.start)
	case t.start.IsZero() || t.end.IsZero():
		return 0
	default:
		return t.end.Sub(t.start)
	}
}

// ComputeFPS returns the average frame rate over the stopped interval.
func (t *Tracker) ComputeFPS() (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.stopped {
		return 0, ErrNotStopped
	}
	return rate(t.frames, t.elapsedLocked()), nil
}

// Snapshot returns a live reading, usable while the tracker runs.
func (t *Tracker) Snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	elapsed := t.elapsedLocked()
	return Stats{
		Frames:  t.frames,
		Elapsed: elapsed,
		FPS:     rate(t.frames, elapsed),
	}
}

func rate(frames int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(frames) / elapsed.Seconds()
}
