package memory

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/embed"
	"github.com/viant/memvec/model"
)

func TestSkyAndGrass(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{})
		sky := store(t, eng, "The sky is blue", "fact")
		grass := store(t, eng, "Grass is green", "fact")

		hits, err := eng.Search(ctx, SearchRequest{Query: "color of the sky", K: 1})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, sky, hits[0].Record.ID)

		all, err := eng.Search(ctx, SearchRequest{Query: "color of the sky", K: 2, Tags: []string{"fact"}})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, sky, all[0].Record.ID)
		assert.Equal(t, grass, all[1].Record.ID)
		assert.Greater(t, all[0].Score, all[1].Score)
	})
}

func TestSearchEmptyStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		eng := newEngine(t, kind, Options{})
		hits, err := eng.Search(context.Background(), SearchRequest{Query: "anything", K: 5})
		require.NoError(t, err)
		assert.NotNil(t, hits)
		assert.Empty(t, hits)
	})
}

func TestSearchOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{})
		var ids []string
		for i := 0; i < 40; i++ {
			ids = append(ids, store(t, eng, fmt.Sprintf("note %d about topic %d and item %d", i, i%5, i%7)))
		}
		for i := 0; i < 40; i += 3 {
			_, err := eng.Delete(ctx, ids[i])
			require.NoError(t, err)
		}
		tombstoned := map[string]bool{}
		for i := 0; i < 40; i += 3 {
			tombstoned[ids[i]] = true
		}

		for _, q := range []string{"topic 3", "item 6 note", "note 12"} {
			hits, err := eng.Search(ctx, SearchRequest{Query: q, K: 10})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(hits), 10)
			seen := map[string]bool{}
			for i, h := range hits {
				assert.False(t, seen[h.Record.ID], "duplicate id %s", h.Record.ID)
				seen[h.Record.ID] = true
				assert.False(t, tombstoned[h.Record.ID], "tombstoned id %s", h.Record.ID)
				assert.False(t, h.Record.Tombstoned)
				assert.GreaterOrEqual(t, h.Score, -1.0)
				assert.LessOrEqual(t, h.Score, 1.0)
				if i > 0 {
					prev := hits[i-1]
					assert.True(t, prev.Score > h.Score || (prev.Score == h.Score && prev.Record.ID < h.Record.ID),
						"results out of order at %d", i)
				}
			}
		}
	})
}

func TestSearchTagIntersection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{})
		both := store(t, eng, "red apple", "fruit", "red")
		store(t, eng, "red car", "red")
		store(t, eng, "green apple", "fruit")

		hits, err := eng.Search(ctx, SearchRequest{Query: "apple", K: 10, Tags: []string{"red", "fruit"}})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, both, hits[0].Record.ID)
		for _, h := range hits {
			assert.True(t, h.Record.HasTag("red") && h.Record.HasTag("fruit"))
		}

		hits, err = eng.Search(ctx, SearchRequest{Query: "apple", K: 10, Tags: []string{"missing"}})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestSearchTimeRange(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		clk := newClock()
		eng := newEngine(t, kind, Options{Clock: clk.Now})
		var created []time.Time
		for i := 0; i < 5; i++ {
			id := store(t, eng, fmt.Sprintf("log entry %d", i))
			rec, err := eng.Retrieve(ctx, id, RetrieveOptions{})
			require.NoError(t, err)
			created = append(created, rec.CreatedAt)
		}
		tr := &model.TimeRange{From: created[1], To: created[3]}
		hits, err := eng.Search(ctx, SearchRequest{Query: "log entry", K: 10, TimeRange: tr})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		for _, h := range hits {
			assert.True(t, tr.Contains(h.Record.CreatedAt), "created %s outside range", h.Record.CreatedAt)
		}

		_, err = eng.Search(ctx, SearchRequest{Query: "log", K: 1, TimeRange: &model.TimeRange{From: created[3], To: created[1]}})
		assert.ErrorIs(t, err, model.ErrInvalidArgument)
	})
}

func TestSearchMinScore(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, backend.KindSQLiteVec, Options{})
	sky := store(t, eng, "The sky is blue")
	store(t, eng, "Grass is green")

	min := 0.3
	hits, err := eng.Search(ctx, SearchRequest{Query: "the sky", K: 5, MinScore: &min})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, sky, hits[0].Record.ID)
	assert.GreaterOrEqual(t, hits[0].Score, min)

	high := 1.01
	hits, err = eng.Search(ctx, SearchRequest{Query: "the sky", K: 5, MinScore: &high})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchInvalid(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, backend.KindSQLiteVec, Options{})
	_, err := eng.Search(ctx, SearchRequest{Query: "x", K: 0})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	_, err = eng.Search(ctx, SearchRequest{Query: "   ", K: 1})
	assert.ErrorIs(t, err, model.ErrEmptyInput)
}

func TestSearchWidensPastDroppedMatches(t *testing.T) {
	ctx := context.Background()
	e := embed.NewHash(0)
	f := &faulty{Backend: openTestBackend(t, backend.KindSQLiteVec, e.Dimensions()), phantoms: 3}
	eng := newEngineWith(t, f, e, Options{OverFetch: 1})
	for i := 0; i < 6; i++ {
		store(t, eng, fmt.Sprintf("fact number %d", i))
	}
	hits, err := eng.Search(ctx, SearchRequest{Query: "fact", K: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.NotContains(t, h.Record.ID, "ghost")
	}
}

func TestSearchHugeK(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kind backend.Kind) {
		ctx := context.Background()
		eng := newEngine(t, kind, Options{})
		store(t, eng, "the sky is blue", "sky")
		store(t, eng, "grass is green")

		for _, k := range []int{math.MaxInt, math.MaxInt / 2, 1 << 40} {
			hits, err := eng.Search(ctx, SearchRequest{Query: "blue sky", K: k})
			require.NoError(t, err)
			assert.Len(t, hits, 2)

			hits, err = eng.Search(ctx, SearchRequest{Query: "blue sky", K: k, Tags: []string{"sky"}})
			require.NoError(t, err)
			assert.Len(t, hits, 1)
		}
	})
}
