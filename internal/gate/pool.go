package gate

import (
	"context"
	"sync"

	"github.com/viant/memvec/model"
)

type job struct {
	ctx context.Context
	run func(ctx context.Context)
}

// Pool runs submitted work on a fixed set of workers behind a bounded queue.
type Pool struct {
	mu     sync.RWMutex
	jobs   chan job
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines draining a queue of depth queue.
func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{jobs: make(chan job, queue)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for j := range p.jobs {
		if j.ctx.Err() != nil {
			continue
		}
		j.run(j.ctx)
	}
}

// Pending returns the number of queued jobs not yet picked by a worker.
func (p *Pool) Pending() int { return len(p.jobs) }

func (p *Pool) submit(j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return model.ErrClosed
	}
	select {
	case p.jobs <- j:
		return nil
	default:
		return model.ErrEngineBusy
	}
}

// Close stops accepting work and waits for queued jobs to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

type result[T any] struct {
	value T
	err   error
}

// Submit runs fn on p and waits for its result. It fails fast with
// model.ErrEngineBusy when the queue is full; ctx cancels both the wait
// and, through fn, the work itself.
func Submit[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	done := make(chan result[T], 1)
	err := p.submit(job{ctx: ctx, run: func(ctx context.Context) {
		v, err := fn(ctx)
		done <- result[T]{value: v, err: err}
	}})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
