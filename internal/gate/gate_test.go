package gate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/memvec/model"
	"golang.org/x/sync/errgroup"
)

func TestWriteIsExclusive(t *testing.T) {
	g := New()
	var active, peak atomic.Int32
	var eg errgroup.Group
	for i := 0; i < 16; i++ {
		eg.Go(func() error {
			return g.Write(context.Background(), func(context.Context) error {
				n := active.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int32(1), peak.Load())
}

func TestWriteCancelledBeforeAdmission(t *testing.T) {
	g := New()
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Write(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ran := false
	err := g.Write(ctx, func(context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
	close(release)
}

func TestWriteIgnoresCancelOnceAdmitted(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())
	err := g.Write(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.NoError(t, err)
}

func TestReadersShareView(t *testing.T) {
	g := New()
	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = g.Read(context.Background(), func(context.Context) error {
			close(inside)
			<-release
			return nil
		})
	}()
	<-inside
	done := make(chan struct{})
	go func() {
		_ = g.Read(context.Background(), func(context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked behind the first")
	}
	close(release)
}

func TestPoolBusy(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Close()
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = Submit(context.Background(), p, func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started
	queued := make(chan error, 1)
	go func() {
		_, err := Submit(context.Background(), p, func(context.Context) (int, error) { return 2, nil })
		queued <- err
	}()
	require.Eventually(t, func() bool { return p.Pending() == 1 }, time.Second, time.Millisecond)

	_, err := Submit(context.Background(), p, func(context.Context) (int, error) { return 3, nil })
	assert.ErrorIs(t, err, model.ErrEngineBusy)

	close(release)
	assert.NoError(t, <-queued)
}

func TestPoolSubmit(t *testing.T) {
	p := NewPool(4, 8)
	var eg errgroup.Group
	var sum atomic.Int64
	for i := 1; i <= 8; i++ {
		eg.Go(func() error {
			v, err := Submit(context.Background(), p, func(context.Context) (int, error) { return i, nil })
			sum.Add(int64(v))
			return err
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int64(36), sum.Load())
	p.Close()

	_, err := Submit(context.Background(), p, func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, model.ErrClosed)
}

func TestPoolCancelledWait(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Close()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := Submit(ctx, p, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
