package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type release struct {
	name string
	fn   func(context.Context) error
}

// guard releases remote and local resources on every exit path.
// Releases run in reverse registration order.
type guard struct {
	logger  *slog.Logger
	timeout time.Duration
	stack   []release
}

func newGuard(logger *slog.Logger, timeout time.Duration) *guard {
	return &guard{logger: logger, timeout: timeout}
}

// Defer registers fn to release the resource called name.
func (g *guard) Defer(name string, fn func(context.Context) error) {
	g.stack = append(g.stack, release{name: name, fn: fn})
}

// Dismiss drops the release for name after its teardown was confirmed.
func (g *guard) Dismiss(name string) {
	for i := len(g.stack) - 1; i >= 0; i-- {
		if g.stack[i].name == name {
			g.stack = append(g.stack[:i], g.stack[i+1:]...)
			return
		}
	}
}

// Close releases name now and dismisses it once the release succeeded.
// On failure the release stays registered for Release to retry.
func (g *guard) Close(ctx context.Context, name string) error {
	for i := len(g.stack) - 1; i >= 0; i-- {
		if g.stack[i].name != name {
			continue
		}
		if err := g.stack[i].fn(ctx); err != nil {
			return fmt.Errorf("release %s: %w", name, err)
		}
		g.logger.Info("released resource", "resource", name)
		g.Dismiss(name)
		return nil
	}
	return nil
}

// Pending returns the names of resources not yet released.
func (g *guard) Pending() []string {
	names := make([]string, len(g.stack))
	for i, r := range g.stack {
		names[i] = r.name
	}
	return names
}

// Release runs every pending release. It outlives cancellation of ctx.
func (g *guard) Release(ctx context.Context) {
	if len(g.stack) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	for i := len(g.stack) - 1; i >= 0; i-- {
		r := g.stack[i]
		if err := r.fn(ctx); err != nil {
			g.logger.Warn("cleanup failed", "resource", r.name, "error", err)
			continue
		}
		g.logger.Info("released resource", "resource", r.name)
	}
	g.stack = nil
}
