package memory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/embed"
	"github.com/viant/memvec/internal/gate"
	"github.com/viant/memvec/model"
)

// Engine owns a backend and an embedder for the process lifetime.
type Engine struct {
	backend  backend.Backend
	embedder embed.Embedder
	gate     *gate.Gate
	pool     *gate.Pool
	opts     Options
	log      *Logger
	closed   atomic.Bool
}

// New builds an engine over b and e and takes ownership of both.
func New(b backend.Backend, e embed.Embedder, opts Options) (*Engine, error) {
	if b == nil || e == nil {
		return nil, fmt.Errorf("%w: backend and embedder are required", model.ErrInvalidArgument)
	}
	if e.Dimensions() != b.Dimension() {
		return nil, &model.DimensionError{Expected: b.Dimension(), Actual: e.Dimensions()}
	}
	opts = opts.withDefaults()
	return &Engine{
		backend:  b,
		embedder: e,
		gate:     gate.New(),
		pool:     gate.NewPool(opts.Workers, opts.QueueDepth),
		opts:     opts,
		log:      opts.Logger.WithBackend(string(b.Kind())),
	}, nil
}

// Backend returns the storage the engine writes to.
func (e *Engine) Backend() backend.Backend { return e.backend }

// Embedder returns the embedder bound to the storage.
func (e *Engine) Embedder() embed.Embedder { return e.embedder }

// Close drains the embedding pool and closes the backend and embedder.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.pool.Close()
	err := e.gate.Write(context.Background(), func(context.Context) error {
		return e.backend.Close()
	})
	if c, ok := e.embedder.(embed.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

func (e *Engine) check() error {
	if e.closed.Load() {
		return model.ErrClosed
	}
	return nil
}

// embed runs the embedder on the worker pool.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := gate.Submit(ctx, e.pool, func(ctx context.Context) ([]float32, error) {
		return e.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	if len(vec) != e.backend.Dimension() {
		return nil, &model.DimensionError{Expected: e.backend.Dimension(), Actual: len(vec)}
	}
	return vec, nil
}

// read runs fn under the shared view and retries it once when it fails
// with a transient error.
func (e *Engine) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := e.gate.Read(ctx, fn)
	if err != nil && model.IsTransient(err) && ctx.Err() == nil {
		e.log.LogRetry(ctx, op, err)
		err = e.gate.Read(ctx, fn)
	}
	return err
}

// write runs fn in a backend transaction inside the exclusive write
// section. The transaction commits when fn succeeds and rolls back
// otherwise; writes are never retried.
func (e *Engine) write(ctx context.Context, fn func(ctx context.Context, tx backend.Tx) error) error {
	return e.gate.Write(ctx, func(ctx context.Context) error {
		tx, err := e.backend.Begin(ctx)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("%w: id generation: %v", model.ErrBackendUnavailable, err)
	}
	return id.String(), nil
}
