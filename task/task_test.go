package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gentam/norstore/preset"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ preset.Suspender = (*Group)(nil)

func TestPeriodic_PauseSkips(t *testing.T) {
	var n int
	p := NewPeriodic("t", time.Millisecond, func() { n++ }, nil)

	p.Tick()
	p.Pause()
	p.Pause()
	p.Tick()
	p.Resume()
	assert.True(t, p.Paused(), "pauses nest")
	p.Tick()
	p.Resume()
	assert.False(t, p.Paused())
	p.Tick()

	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), p.Ticks())
	assert.Equal(t, int64(2), p.Skipped())

	p.Resume() // unmatched resume is ignored
	assert.False(t, p.Paused())
}

func TestPeriodic_PauseWaitsForTick(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := NewPeriodic("t", time.Millisecond, func() {
		close(started)
		<-release
	}, nil)

	go p.Tick()
	<-started

	paused := make(chan struct{})
	go func() {
		p.Pause()
		close(paused)
	}()
	select {
	case <-paused:
		t.Fatal("Pause returned during a tick")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-paused:
	case <-time.After(time.Second):
		t.Fatal("Pause did not return after the tick")
	}
	p.Resume()
}

func TestPeriodic_Run(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var n atomic.Int32
	p := NewPeriodic(OscUpdate, 10*time.Millisecond, func() { n.Add(1) }, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(10 * time.Millisecond)
	assert.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestGroup(t *testing.T) {
	osc := NewPeriodic(OscUpdate, time.Millisecond, func() {}, nil)
	wt := NewPeriodic(WTInterp, time.Millisecond, func() {}, nil)
	lfo := NewPeriodic(LFOPWM, time.Millisecond, func() {}, nil)
	g := NewGroup(nil, osc, wt, lfo)

	assert.Same(t, wt, g.Task(WTInterp))
	assert.Nil(t, g.Task("led-refresh"))

	g.Suspend()
	g.Suspend()
	for _, p := range []*Periodic{osc, wt, lfo} {
		p.Tick()
		assert.True(t, p.Paused(), p.Name())
	}
	g.Resume()
	assert.True(t, osc.Paused())
	g.Resume()
	for _, p := range []*Periodic{osc, wt, lfo} {
		assert.False(t, p.Paused(), p.Name())
		p.Tick()
		assert.Equal(t, int64(1), p.Ticks())
		assert.Equal(t, int64(1), p.Skipped())
	}
}

func TestGroup_Run(t *testing.T) {
	g := NewGroup(nil,
		NewPeriodic(OscUpdate, time.Millisecond, func() {}, nil),
		NewPeriodic(LFOPWM, time.Millisecond, func() {}, nil),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, g.Run(ctx))
	assert.Positive(t, g.Task(OscUpdate).Ticks())
}
