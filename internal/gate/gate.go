// Package gate serializes writers, shares a consistent view among readers
// and bounds concurrent embedding work.
package gate

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate admits one write section at a time. Readers share the view lock;
// a write section holds it exclusively only while it runs.
type Gate struct {
	write *semaphore.Weighted
	view  sync.RWMutex
}

// New returns an open gate.
func New() *Gate {
	return &Gate{write: semaphore.NewWeighted(1)}
}

// Write runs fn as the exclusive write section. Waiting for admission
// honors ctx; once admitted fn runs to completion with a context that is
// never cancelled, so a started write is not torn by its caller.
func (g *Gate) Write(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.write.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.write.Release(1)
	g.view.Lock()
	defer g.view.Unlock()
	return fn(context.WithoutCancel(ctx))
}

// Read runs fn under the shared view lock.
func (g *Gate) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.view.RLock()
	defer g.view.RUnlock()
	return fn(ctx)
}
