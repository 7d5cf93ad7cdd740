package metastore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/memvec/engine"
	"github.com/viant/memvec/model"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := engine.OpenWith(filepath.Join(t.TempDir(), "meta.sqlite"), engine.DefaultOptions)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Ensure(context.Background(), db))
	return db
}

func ts(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func newRecord(id, content string, created time.Time, tags ...string) *model.Record {
	normalized := model.NormalizeContent(content)
	return &model.Record{
		ID:          id,
		Content:     content,
		ContentHash: model.ContentHash(normalized),
		Tags:        model.NormalizeTags(tags),
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestInsertGet(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	rec := newRecord("a", "hello world", ts(100), "x", "y")
	rec.Metadata = map[string]any{
		"source": "test",
		"n":      int64(1),
		"big":    int64(1 << 60),
		"ratio":  0.25,
		"nested": map[string]any{"k": int64(3), "list": []any{int64(1), 2.5}},
	}
	require.NoError(t, Insert(ctx, db, rec))

	got, err := Get(ctx, db, "a")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Content)
	assert.Equal(t, []string{"x", "y"}, got.Tags)
	assert.Equal(t, rec.Metadata, got.Metadata)
	assert.True(t, got.CreatedAt.Equal(ts(100)))
	assert.False(t, got.Tombstoned)

	_, err = Get(ctx, db, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	id, ok, err := FindByHash(ctx, db, rec.ContentHash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestInsert_ClampsCreatedAt(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	require.NoError(t, Insert(ctx, db, newRecord("a", "one", ts(200))))
	late := newRecord("b", "two", ts(100))
	require.NoError(t, Insert(ctx, db, late))
	assert.True(t, late.CreatedAt.Equal(ts(200)))

	recs, err := List(ctx, db, model.Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID, "ties are broken by insertion order")
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	require.NoError(t, Insert(ctx, db, newRecord("a", "one", ts(100), "work", "urgent")))
	require.NoError(t, Insert(ctx, db, newRecord("b", "two", ts(200), "work")))
	require.NoError(t, Insert(ctx, db, newRecord("c", "three", ts(300), "home", "urgent")))

	ids, err := Candidates(ctx, db, model.Filter{Tags: []string{"urgent", "work"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	ids, err = Candidates(ctx, db, model.Filter{TimeRange: &model.TimeRange{From: ts(200), To: ts(300)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids)

	ids, err = Candidates(ctx, db, model.Filter{Tags: []string{"nope"}})
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)

	recs, err := List(ctx, db, model.Filter{Tags: []string{"urgent"}}, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, []string{"home", "urgent"}, recs[0].Tags)
}

func TestTombstoneRestorePurge(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	rec := newRecord("a", "one", ts(100))
	require.NoError(t, Insert(ctx, db, rec))

	changed, err := Tombstone(ctx, db, "a", ts(150))
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = Tombstone(ctx, db, "a", ts(160))
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = Tombstone(ctx, db, "zzz", ts(160))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, ok, err := FindByHash(ctx, db, rec.ContentHash)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, UpdateMeta(ctx, db, "a", []string{"t"}, nil, ts(170)), model.ErrNotFound)

	active, tomb, err := Counts(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 0, active)
	assert.Equal(t, 1, tomb)

	got, err := Get(ctx, db, "a")
	require.NoError(t, err)
	require.NotNil(t, got.TombstonedAt)
	assert.True(t, got.TombstonedAt.Equal(ts(150)))

	ids, err := Expired(ctx, db, ts(149))
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = Expired(ctx, db, ts(150))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	changed, err = Restore(ctx, db, "a", ts(180))
	require.NoError(t, err)
	assert.True(t, changed)
	active, _, err = Counts(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	_, err = Tombstone(ctx, db, "a", ts(190))
	require.NoError(t, err)
	n, err := Purge(ctx, db, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = Get(ctx, db, "a")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateMeta(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	require.NoError(t, Insert(ctx, db, newRecord("a", "one", ts(100), "old")))

	require.NoError(t, UpdateMeta(ctx, db, "a", []string{"new"}, map[string]any{"k": "v"}, ts(200)))
	got, err := Get(ctx, db, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, got.Tags)
	assert.Equal(t, "v", got.Metadata["k"])
	assert.True(t, got.UpdatedAt.Equal(ts(200)))
	assert.Equal(t, "one", got.Content)

	require.NoError(t, UpdateMeta(ctx, db, "a", nil, nil, ts(300)))
	got, err = Get(ctx, db, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, got.Tags)
}

func TestInfo(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	want := &Info{Backend: "sqlite_vec", SchemaVersion: SchemaVersion, Model: "hash-v1", Dimension: 384}
	require.NoError(t, Bind(ctx, db, want))
	require.NoError(t, Bind(ctx, db, want))

	have, ok, err := ReadInfo(ctx, db)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, *want, *have)

	other := *want
	other.Backend = "chromem"
	assert.ErrorIs(t, Bind(ctx, db, &other), model.ErrBackendMismatch)

	other = *want
	other.Dimension = 768
	assert.ErrorIs(t, Bind(ctx, db, &other), model.ErrDimensionMismatch)

	g, err := Generation(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 0, g)
	g, err = BumpGeneration(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, g)
	g, err = BumpGeneration(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 2, g)
}
