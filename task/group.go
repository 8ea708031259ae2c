package task

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Group is the set of tasks paused together around flash access. It
// satisfies preset.Suspender.
type Group struct {
	tasks []*Periodic
	log   *slog.Logger
}

func NewGroup(log *slog.Logger, tasks ...*Periodic) *Group {
	if log == nil {
		log = slog.Default()
	}
	return &Group{tasks: tasks, log: log}
}

// Task returns the named task, or nil.
func (g *Group) Task(name string) *Periodic {
	for _, t := range g.tasks {
		if t.name == name {
			return t
		}
	}
	return nil
}

// Run runs every task until ctx is done.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, t := range g.tasks {
		eg.Go(func() error { return t.Run(ctx) })
	}
	return eg.Wait()
}

// Suspend pauses every task, in order.
func (g *Group) Suspend() {
	for _, t := range g.tasks {
		t.Pause()
	}
	g.log.Debug("tasks suspended", "n", len(g.tasks))
}

// Resume undoes Suspend in reverse order.
func (g *Group) Resume() {
	for i := len(g.tasks) - 1; i >= 0; i-- {
		g.tasks[i].Resume()
	}
	g.log.Debug("tasks resumed", "n", len(g.tasks))
}
