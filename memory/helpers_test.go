package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/backend/chromem"
	"github.com/viant/memvec/backend/sqlitevec"
	"github.com/viant/memvec/embed"
	"github.com/viant/memvec/model"
)

// clock hands out strictly increasing timestamps one second apart.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var backendKinds = []backend.Kind{backend.KindSQLiteVec, backend.KindChromem}

func openTestBackend(t *testing.T, kind backend.Kind, dims int) backend.Backend {
	t.Helper()
	cfg := backend.Config{Kind: kind, Model: embed.HashModel, Dimension: dims}
	if dims != embed.HashDimensions {
		cfg.Model = embed.NewHash(dims).Model()
	}
	ctx := context.Background()
	switch kind {
	case backend.KindChromem:
		cfg.Path = filepath.Join(t.TempDir(), "store")
		b, err := chromem.Open(ctx, cfg)
		require.NoError(t, err)
		return b
	default:
		cfg.Path = filepath.Join(t.TempDir(), "memory.db")
		b, err := sqlitevec.Open(ctx, cfg)
		require.NoError(t, err)
		return b
	}
}

func newEngineWith(t *testing.T, b backend.Backend, e embed.Embedder, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}
	eng, err := New(b, e, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func newEngine(t *testing.T, kind backend.Kind, opts Options) *Engine {
	t.Helper()
	e := embed.NewHash(0)
	return newEngineWith(t, openTestBackend(t, kind, e.Dimensions()), e, opts)
}

func store(t *testing.T, eng *Engine, content string, tags ...string) string {
	t.Helper()
	res, err := eng.Store(context.Background(), StoreRequest{Content: content, Tags: tags})
	require.NoError(t, err)
	return res.ID
}

func forEachBackend(t *testing.T, fn func(t *testing.T, kind backend.Kind)) {
	for _, kind := range backendKinds {
		t.Run(string(kind), func(t *testing.T) { fn(t, kind) })
	}
}

func transientErr() error {
	return model.Transient(fmt.Errorf("%w: database is locked", model.ErrBackendUnavailable))
}

// faulty wraps a backend and injects failures.
type faulty struct {
	backend.Backend

	mu          sync.Mutex
	getFailures int
	gets        int
	inserts     int
	insertErr   error
	commitErr   error
	phantoms    int
}

func (f *faulty) Get(ctx context.Context, id string) (*model.Record, error) {
	f.mu.Lock()
	f.gets++
	fail := f.getFailures > 0
	if fail {
		f.getFailures--
	}
	f.mu.Unlock()
	if fail {
		return nil, transientErr()
	}
	return f.Backend.Get(ctx, id)
}

// Search prepends ids that have no record, forcing the engine to widen.
func (f *faulty) Search(ctx context.Context, query []float32, k int, candidates []string) ([]model.Scored, error) {
	out, err := f.Backend.Search(ctx, query, k, candidates)
	if err != nil || f.phantoms == 0 {
		return out, err
	}
	n := f.phantoms
	if n > k {
		n = k
	}
	ghosts := make([]model.Scored, 0, k)
	for i := 0; i < n; i++ {
		ghosts = append(ghosts, model.Scored{ID: fmt.Sprintf("ghost-%d", i), Score: 1})
	}
	out = append(ghosts, out...)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *faulty) Begin(ctx context.Context) (backend.Tx, error) {
	tx, err := f.Backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, f: f}, nil
}

type faultyTx struct {
	backend.Tx
	f *faulty
}

// Insert writes through, then fails as if the second store rejected it.
func (t *faultyTx) Insert(ctx context.Context, rec *model.Record) error {
	t.f.mu.Lock()
	t.f.inserts++
	injected := t.f.insertErr
	t.f.mu.Unlock()
	if err := t.Tx.Insert(ctx, rec); err != nil {
		return err
	}
	return injected
}

func (t *faultyTx) Commit() error {
	if t.f.commitErr != nil {
		_ = t.Tx.Rollback()
		return t.f.commitErr
	}
	return t.Tx.Commit()
}
