package chromem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/engine"
	"github.com/viant/memvec/metastore"
	"github.com/viant/memvec/model"
)

func config(dir string) backend.Config {
	return backend.Config{Kind: backend.KindChromem, Path: dir, Model: "test", Dimension: 3}
}

func openBackend(t *testing.T, dir string) *Backend {
	t.Helper()
	b, err := Open(context.Background(), config(dir))
	require.NoError(t, err)
	return b
}

func record(id string, vec []float32, created int64, tags ...string) *model.Record {
	ts := time.Unix(created, 0).UTC()
	return &model.Record{
		ID:          id,
		Content:     "content " + id,
		ContentHash: "hash-" + id,
		Embedding:   vec,
		Tags:        model.NormalizeTags(tags),
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

func insert(t *testing.T, b *Backend, recs ...*model.Record) {
	t.Helper()
	ctx := context.Background()
	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, tx.Insert(ctx, r))
	}
	require.NoError(t, tx.Commit())
}

// failing wraps a collection and fails AddDocument after n successful calls.
type failing struct {
	collection
	n int
}

func (f *failing) AddDocument(ctx context.Context, doc chromem.Document) error {
	if f.n <= 0 {
		return errors.New("disk gone")
	}
	f.n--
	return f.collection.AddDocument(ctx, doc)
}

func TestInsertSearchGet(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, t.TempDir())
	defer b.Close()

	insert(t, b,
		record("a", []float32{1, 0, 0}, 1, "x"),
		record("b", []float32{0, 1, 0}, 2, "x", "y"),
		record("c", []float32{0.9, 0.1, 0}, 3),
	)

	hits, err := b.Search(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "c", hits[1].ID)

	hits, err = b.Search(ctx, []float32{1, 0, 0}, 5, []string{"b"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)

	hits, err = b.Search(ctx, []float32{1, 0, 0}, 5, []string{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = b.Search(ctx, []float32{1, 0}, 1, nil)
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)

	rec, err := b.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, rec.Tags)
	assert.Len(t, rec.Embedding, 3)
	assert.Equal(t, 3, b.Indexed())
}

func TestSearchBreaksTiesByID(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, t.TempDir())
	defer b.Close()

	insert(t, b,
		record("z", []float32{0, 0, 1}, 1),
		record("m", []float32{0, 0, 1}, 2),
		record("a", []float32{0, 0, 1}, 3),
	)
	hits, err := b.Search(ctx, []float32{0, 0, 1}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "m", hits[1].ID)
}

func TestTombstoneRestorePurge(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, t.TempDir())
	defer b.Close()
	insert(t, b, record("a", []float32{1, 0, 0}, 1), record("b", []float32{0, 1, 0}, 2))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	changed, err := tx.Tombstone(ctx, "a", time.Unix(10, 0))
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, tx.Commit())

	hits, err := b.Search(ctx, []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)

	tx, err = b.Begin(ctx)
	require.NoError(t, err)
	changed, err = tx.Restore(ctx, "a", time.Unix(11, 0))
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, tx.Commit())

	hits, err = b.Search(ctx, []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)

	tx, err = b.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Tombstone(ctx, "b", time.Unix(12, 0))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = b.Begin(ctx)
	require.NoError(t, err)
	n, err := tx.Purge(ctx, time.Unix(13, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, tx.Commit())

	_, err = b.col.GetByID(ctx, "b")
	assert.Error(t, err)
	_, err = b.Get(ctx, "b")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFailedVectorWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, t.TempDir())
	defer b.Close()
	b.col = &failing{collection: b.col, n: 1}

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, record("a", []float32{1, 0, 0}, 1)))
	require.NoError(t, tx.Insert(ctx, record("b", []float32{0, 1, 0}, 2)))
	err = tx.Commit()
	assert.ErrorIs(t, err, model.ErrBackendUnavailable)

	_, err = b.Get(ctx, "a")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 0, b.col.Count())
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, t.TempDir())
	defer b.Close()

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, record("a", []float32{1, 0, 0}, 1)))
	require.NoError(t, tx.Rollback())

	assert.Equal(t, 0, b.col.Count())
	active, _, err := b.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, active)
}

func TestReopenReconciles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := openBackend(t, dir)
	insert(t, b, record("a", []float32{1, 0, 0}, 1), record("b", []float32{0, 1, 0}, 2))
	// a vector written before a crash, without its metadata
	require.NoError(t, b.col.AddDocument(ctx, chromem.Document{ID: "ghost", Embedding: []float32{0, 0, 1}, Metadata: map[string]string{activeKey: activeYes}}))
	// a tombstone whose vector flag update was lost
	_, err := b.db.Exec(`UPDATE memories SET tombstoned_at = 5 WHERE id = 'b'`)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b = openBackend(t, dir)
	defer b.Close()
	_, err = b.col.GetByID(ctx, "ghost")
	assert.Error(t, err)
	hits, err := b.Search(ctx, []float32{0, 1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestOpenRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := openBackend(t, dir)
	require.NoError(t, b.Close())

	cfg := config(dir)
	cfg.Dimension = 4
	_, err := Open(ctx, cfg)
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)

	file := filepath.Join(t.TempDir(), "m.sqlite")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Open(ctx, config(file))
	assert.ErrorIs(t, err, model.ErrBackendMismatch)

	db, err := engine.OpenWith(filepath.Join(dir, metaFile), engine.DefaultOptions)
	require.NoError(t, err)
	require.NoError(t, metastore.WriteInfo(ctx, db, &metastore.Info{Backend: "sqlite_vec", SchemaVersion: 1, Model: "test", Dimension: 3}))
	require.NoError(t, db.Close())
	_, err = Open(ctx, config(dir))
	assert.ErrorIs(t, err, model.ErrBackendMismatch)
}

func TestOpenDetectsMissingVectors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := openBackend(t, dir)
	insert(t, b, record("a", []float32{1, 0, 0}, 1))
	require.NoError(t, b.col.Delete(ctx, nil, nil, "a"))
	require.NoError(t, b.Close())

	_, err := Open(ctx, config(dir))
	assert.ErrorIs(t, err, model.ErrCorrupted)
}

func TestClosed(t *testing.T) {
	b := openBackend(t, t.TempDir())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, err := b.Get(context.Background(), "a")
	assert.ErrorIs(t, err, model.ErrClosed)
}
