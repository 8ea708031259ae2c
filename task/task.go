// Package task runs the periodic jobs that read the active preset, and lets
// the storage code pause them while flash is busy.
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Names of the jobs the preset store pauses.
const (
	OscUpdate = "osc-update"
	WTInterp  = "wt-interp"
	LFOPWM    = "lfo-pwm"
)

// Periodic calls a function every interval. Ticks that come due while the
// task is paused are skipped, not queued.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func()
	clock    clockwork.Clock

	run   sync.Mutex // held by a running tick and while paused
	mu    sync.Mutex // guards depth
	depth int

	ticks   atomic.Int64
	skipped atomic.Int64
}

func NewPeriodic(name string, interval time.Duration, fn func(), clock clockwork.Clock) *Periodic {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Periodic{name: name, interval: interval, fn: fn, clock: clock}
}

func (p *Periodic) Name() string { return p.name }

// Ticks returns how many times fn has run.
func (p *Periodic) Ticks() int64 { return p.ticks.Load() }

// Skipped returns how many ticks were dropped while paused.
func (p *Periodic) Skipped() int64 { return p.skipped.Load() }

// Run ticks until ctx is done.
func (p *Periodic) Run(ctx context.Context) error {
	t := p.clock.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			p.Tick()
		}
	}
}

// Tick runs fn once unless the task is paused.
func (p *Periodic) Tick() {
	if !p.run.TryLock() {
		p.skipped.Add(1)
		return
	}
	defer p.run.Unlock()
	p.fn()
	p.ticks.Add(1)
}

// Pause waits for a running tick to return and stops further ticks until
// the matching Resume. Pauses nest.
func (p *Periodic) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depth++
	if p.depth == 1 {
		p.run.Lock()
	}
}

func (p *Periodic) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.depth == 0 {
		return
	}
	p.depth--
	if p.depth == 0 {
		p.run.Unlock()
	}
}

// Paused reports whether a Pause is outstanding.
func (p *Periodic) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.depth > 0
}
