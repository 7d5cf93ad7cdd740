package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/embed"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vecsync"
)

func TestStoreRetrieveRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{})
		res, err := eng.Store(ctx, StoreRequest{
			Content:  "  Meeting notes: ship the release on Friday  ",
			Tags:     []string{"work", " release ", "work"},
			Metadata: map[string]any{"source": "chat", "priority": int64(2), "weight": 0.5},
		})
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.NotEmpty(t, res.ID)

		rec, err := eng.Retrieve(ctx, res.ID, RetrieveOptions{})
		require.NoError(t, err)
		assert.Equal(t, res.ID, rec.ID)
		assert.Equal(t, "Meeting notes: ship the release on Friday", rec.Content)
		assert.Equal(t, []string{"release", "work"}, rec.Tags)
		assert.Equal(t, map[string]any{"source": "chat", "priority": int64(2), "weight": 0.5}, rec.Metadata)
		assert.Len(t, rec.Embedding, embed.HashDimensions)
		assert.Equal(t, model.ContentHash(model.NormalizeContent(rec.Content)), rec.ContentHash)
		assert.False(t, rec.Tombstoned)
	})
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	eng := newEngine(t, backend.KindSQLiteVec, Options{})
	_, err := eng.Store(context.Background(), StoreRequest{Content: " \n\t "})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.ErrorIs(t, err, model.ErrEmptyInput)
}

func TestDedupExact(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{})
		first, err := eng.Store(ctx, StoreRequest{Content: "The sky is blue"})
		require.NoError(t, err)
		second, err := eng.Store(ctx, StoreRequest{Content: "The  sky is\nblue"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.Duplicate)

		stats, err := eng.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.RecordCount)

		// a tombstoned record is not a duplicate target
		_, err = eng.Delete(ctx, first.ID)
		require.NoError(t, err)
		third, err := eng.Store(ctx, StoreRequest{Content: "The sky is blue"})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, third.ID)
		assert.False(t, third.Duplicate)
	})
}

func TestDedupOff(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, backend.KindSQLiteVec, Options{Dedup: DedupOff})
	a := store(t, eng, "same text")
	b := store(t, eng, "same text")
	assert.NotEqual(t, a, b)

	res, err := eng.Store(ctx, StoreRequest{Content: "same text", Dedup: DedupExact})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, a, res.ID)
}

func TestDedupSimilar(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{Dedup: DedupSimilar})
		first := store(t, eng, "The sky is blue")
		res, err := eng.Store(ctx, StoreRequest{Content: "the sky is blue!"})
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		assert.Equal(t, first, res.ID)

		res, err = eng.Store(ctx, StoreRequest{Content: "Grass is green"})
		require.NoError(t, err)
		assert.False(t, res.Duplicate)

		res, err = eng.Store(ctx, StoreRequest{Content: "the sky is blue!", Dedup: DedupExact})
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
	})
}

func TestRetrieveUnknown(t *testing.T) {
	eng := newEngine(t, backend.KindSQLiteVec, Options{})
	_, err := eng.Retrieve(context.Background(), "missing", RetrieveOptions{})
	assert.ErrorIs(t, err, model.ErrNotFound)
	var me *model.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "retrieve", me.Op)
	assert.Equal(t, "missing", me.ID)
}

func TestUpdate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{})
		res, err := eng.Store(ctx, StoreRequest{Content: "note", Tags: []string{"a"}, Metadata: map[string]any{"k": "v"}})
		require.NoError(t, err)
		before, err := eng.Retrieve(ctx, res.ID, RetrieveOptions{})
		require.NoError(t, err)

		tags := []string{"b", "c"}
		require.NoError(t, eng.Update(ctx, res.ID, UpdateRequest{Tags: &tags}))
		rec, err := eng.Retrieve(ctx, res.ID, RetrieveOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, rec.Tags)
		assert.Equal(t, map[string]any{"k": "v"}, rec.Metadata)
		assert.Equal(t, before.Content, rec.Content)
		assert.Equal(t, before.Embedding, rec.Embedding)
		assert.False(t, rec.UpdatedAt.Before(before.UpdatedAt))

		require.NoError(t, eng.Update(ctx, res.ID, UpdateRequest{Metadata: map[string]any{"x": "y"}, MergeMetadata: true}))
		rec, err = eng.Retrieve(ctx, res.ID, RetrieveOptions{})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"k": "v", "x": "y"}, rec.Metadata)

		require.NoError(t, eng.Update(ctx, res.ID, UpdateRequest{Metadata: map[string]any{"only": "this"}}))
		rec, err = eng.Retrieve(ctx, res.ID, RetrieveOptions{})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"only": "this"}, rec.Metadata)

		assert.ErrorIs(t, eng.Update(ctx, "missing", UpdateRequest{Tags: &tags}), model.ErrNotFound)
		_, err = eng.Delete(ctx, res.ID)
		require.NoError(t, err)
		assert.ErrorIs(t, eng.Update(ctx, res.ID, UpdateRequest{Tags: &tags}), model.ErrNotFound)
	})
}

func TestDeleteAndRestore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{})
		id := store(t, eng, "The sky is blue", "fact")

		changed, err := eng.Delete(ctx, id)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = eng.Delete(ctx, id)
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = eng.Retrieve(ctx, id, RetrieveOptions{})
		assert.ErrorIs(t, err, model.ErrNotFound)
		rec, err := eng.Retrieve(ctx, id, RetrieveOptions{IncludeTombstoned: true})
		require.NoError(t, err)
		assert.True(t, rec.Tombstoned)
		require.NotNil(t, rec.TombstonedAt)

		hits, err := eng.Search(ctx, SearchRequest{Query: "sky", K: 5})
		require.NoError(t, err)
		assert.Empty(t, hits)

		_, err = eng.Delete(ctx, "never-existed")
		assert.ErrorIs(t, err, model.ErrNotFound)

		changed, err = eng.Restore(ctx, id)
		require.NoError(t, err)
		assert.True(t, changed)
		hits, err = eng.Search(ctx, SearchRequest{Query: "sky", K: 5})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, id, hits[0].Record.ID)
	})
}

func TestCompact(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		clk := newClock()
		eng := newEngine(t, kind, Options{Clock: clk.Now})
		old := store(t, eng, "old news")
		recent := store(t, eng, "recent news")
		kept := store(t, eng, "still active")

		_, err := eng.Delete(ctx, old)
		require.NoError(t, err)
		clk.Advance(48 * time.Hour)
		_, err = eng.Delete(ctx, recent)
		require.NoError(t, err)

		removed, err := eng.Compact(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = eng.Retrieve(ctx, old, RetrieveOptions{IncludeTombstoned: true})
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = eng.Retrieve(ctx, recent, RetrieveOptions{IncludeTombstoned: true})
		assert.NoError(t, err)
		_, err = eng.Retrieve(ctx, kept, RetrieveOptions{})
		assert.NoError(t, err)

		stats, err := eng.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.RecordCount)
		assert.Equal(t, 1, stats.TombstonedCount)

		_, err = eng.Compact(ctx, -time.Second)
		assert.ErrorIs(t, err, model.ErrInvalidArgument)
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, backend.KindSQLiteVec, Options{})
	stats, err := eng.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{Backend: "sqlite_vec", Model: embed.HashModel, Dimension: embed.HashDimensions}, stats)

	store(t, eng, "one")
	id := store(t, eng, "two")
	_, err = eng.Delete(ctx, id)
	require.NoError(t, err)
	stats, err = eng.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordCount)
	assert.Equal(t, 1, stats.TombstonedCount)
}

func TestListRecent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{Clock: newClock().Now})
		a := store(t, eng, "alpha", "x")
		b := store(t, eng, "beta", "x", "y")
		c := store(t, eng, "gamma", "y")
		_, err := eng.Delete(ctx, c)
		require.NoError(t, err)

		recs, err := eng.ListRecent(ctx, ListRequest{})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, b, recs[0].ID)
		assert.Equal(t, a, recs[1].ID)

		recs, err = eng.ListRecent(ctx, ListRequest{Tags: []string{"y"}, IncludeTombstoned: true})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, c, recs[0].ID)

		recs, err = eng.ListRecent(ctx, ListRequest{Limit: 1})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, b, recs[0].ID)

		recs, err = eng.ListRecent(ctx, ListRequest{Tags: []string{"none"}})
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)
	})
}

func TestReindex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{})
		kept := store(t, eng, "the sky is blue")
		gone := store(t, eng, "grass is green")
		_, err := eng.Delete(ctx, gone)
		require.NoError(t, err)

		n, err := eng.Reindex(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		hits, err := eng.Search(ctx, SearchRequest{Query: "blue sky", K: 5})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, kept, hits[0].Record.ID)
	})
}

func TestChangeLog(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{})
		id := store(t, eng, "audit me", "a")
		require.NoError(t, eng.Update(ctx, id, UpdateRequest{Metadata: map[string]any{"k": "v"}}))
		_, err := eng.Delete(ctx, id)
		require.NoError(t, err)
		_, err = eng.Restore(ctx, id)
		require.NoError(t, err)

		entries, err := eng.ChangeLog(ctx, 0, 0)
		require.NoError(t, err)
		var ops []vecsync.Op
		for _, e := range entries {
			assert.Equal(t, id, e.MemoryID)
			ops = append(ops, e.Op)
		}
		assert.Equal(t, []vecsync.Op{vecsync.OpInsert, vecsync.OpUpdate, vecsync.OpTombstone, vecsync.OpRestore}, ops)

		tail, err := eng.ChangeLog(ctx, entries[1].SCN, 1)
		require.NoError(t, err)
		require.Len(t, tail, 1)
		assert.Equal(t, vecsync.OpTombstone, tail[0].Op)
	})
}

func TestNewRejectsDimensionMismatch(t *testing.T) {
	b := openTestBackend(t, backend.KindSQLiteVec, 8)
	defer b.Close()
	_, err := New(b, embed.NewHash(16), Options{Logger: NoopLogger()})
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
}

func TestClosedEngine(t *testing.T) {
	eng := newEngine(t, backend.KindSQLiteVec, Options{})
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())
	_, err := eng.Store(context.Background(), StoreRequest{Content: "x"})
	assert.ErrorIs(t, err, model.ErrClosed)
	_, err = eng.Search(context.Background(), SearchRequest{Query: "x", K: 1})
	assert.ErrorIs(t, err, model.ErrClosed)
}
