package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Engine is the fixed-interval scheduler. It calls OnTick once per interval
// while ShouldTick reports true; the simulator itself has no timing policy.
type Engine struct {
	Tick          uint64        // Ticks executed (monotonic, never resets)
	Interval      time.Duration // Base tick interval (default 1 second)
	AutosaveEvery uint64        // OnAutosave fires every this many ticks; 0 disables

	// Callbacks, populated during setup.
	ShouldTick func() bool       // Gate consulted before each tick; nil means always
	OnTick     func(tick uint64) // Every executed tick
	OnAutosave func(tick uint64) // Every AutosaveEvery ticks

	mu       sync.Mutex
	speed    float64 // Multiplier: 1.0 = real-time, 0 = paused
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewEngine creates a scheduler with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval: time.Second,
		speed:    1.0,
		stopCh:   make(chan struct{}),
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero or below pauses the scheduler.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run drives the loop until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	slog.Info("simulation engine started", "tick", e.Tick, "interval", e.Interval, "speed", e.Speed())

	for {
		speed := e.Speed()
		if speed <= 0 {
			// Paused; check again shortly.
			if !e.wait(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		start := time.Now()
		e.step()

		target := time.Duration(float64(e.Interval) / speed)
		if !e.wait(ctx, target-time.Since(start)) {
			break
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Tick)
}

// Stop halts the loop. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// wait sleeps for d and reports false if the loop should exit.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// step runs one interval.
func (e *Engine) step() {
	if e.ShouldTick != nil && !e.ShouldTick() {
		return
	}
	e.Tick++

	if e.OnTick != nil {
		e.OnTick(e.Tick)
	}
	if e.AutosaveEvery > 0 && e.Tick%e.AutosaveEvery == 0 && e.OnAutosave != nil {
		e.OnAutosave(e.Tick)
	}
}
