package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/gentam/norstore/preset"
	"github.com/gentam/norstore/task"
)

// engine stands in for the module's real-time jobs. They read the active
// preset on their own schedule, so the bank pauses them around flash access
// like it does on the module.
type engine struct {
	active *preset.Preset

	pitch [preset.NumChannels]int32 // cents
	wave  [preset.NumChannels]uint8
	phase [preset.NumChannels]uint32
}

func (e *engine) oscUpdate() {
	for i, c := range e.active.Channels {
		e.pitch[i] = int32(c.Octave)*1200 + int32(c.Transpose)*100 + int32(c.FineTune)
	}
}

func (e *engine) wtInterp() {
	for i, c := range e.active.Channels {
		e.wave[i] = c.Wavetable
	}
}

func (e *engine) lfoPWM() {
	for i, l := range e.active.LFOs {
		if l.Divide == 0 {
			continue
		}
		e.phase[i] += 65536 / uint32(l.Divide)
	}
}

// tasks returns the group to pass to the bank as its Suspender. active may
// be set after the group is built but before it runs.
func (e *engine) tasks(log *slog.Logger) *task.Group {
	return task.NewGroup(log,
		task.NewPeriodic(task.OscUpdate, time.Millisecond, e.oscUpdate, nil),
		task.NewPeriodic(task.WTInterp, 2*time.Millisecond, e.wtInterp, nil),
		task.NewPeriodic(task.LFOPWM, time.Millisecond, e.lfoPWM, nil),
	)
}

// run starts g and returns a function that stops it and logs tick counts.
func run(g *task.Group, log *slog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
		for _, name := range []string{task.OscUpdate, task.WTInterp, task.LFOPWM} {
			t := g.Task(name)
			log.Debug("task stopped", "task", name, "ticks", t.Ticks(), "skipped", t.Skipped())
		}
	}
}
