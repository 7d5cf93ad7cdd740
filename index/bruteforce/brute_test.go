package bruteforce

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/memvec/model"
)

func fixture(t *testing.T) *Index {
	t.Helper()
	idx := New(0)
	require.NoError(t, idx.Build(
		[]string{"a", "b", "c", "d"},
		[][]float32{{1, 0}, {0, 1}, {1, 1}, {-1, 0}},
	))
	return idx
}

func TestSearch_OrderAndTies(t *testing.T) {
	idx := fixture(t)
	require.NoError(t, idx.Upsert("a2", []float32{2, 0}))

	got, err := idx.Search([]float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "a2", got[1].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, "c", got[2].ID)
}

func TestSearch_Candidates(t *testing.T) {
	idx := fixture(t)

	got, err := idx.Search([]float32{1, 0}, 10, []string{"b", "d", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "d", got[1].ID)
	assert.InDelta(t, -1.0, got[1].Score, 1e-6)

	got, err = idx.Search([]float32{1, 0}, 10, []string{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpsertRemove(t *testing.T) {
	idx := fixture(t)
	assert.True(t, idx.Remove("a"))
	assert.False(t, idx.Remove("a"))
	assert.Equal(t, 3, idx.Len())

	got, err := idx.Search([]float32{1, 0}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "c", got[0].ID)

	// slot reuse
	require.NoError(t, idx.Upsert("e", []float32{1, 0}))
	got, err = idx.Search([]float32{1, 0}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "e", got[0].ID)

	require.NoError(t, idx.Upsert("e", []float32{0, 1}))
	v, ok := idx.Vector("e")
	require.True(t, ok)
	assert.InDelta(t, 1.0, v[1], 1e-6)
}

func TestDimensionMismatch(t *testing.T) {
	idx := fixture(t)
	err := idx.Upsert("x", []float32{1, 2, 3})
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
	_, err = idx.Search([]float32{1, 2, 3}, 1, nil)
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
	_, err = idx.Search([]float32{1, 0}, 0, nil)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestMarshalRoundTrip(t *testing.T) {
	idx := fixture(t)
	idx.Remove("b")
	data, err := idx.MarshalBinary()
	require.NoError(t, err)

	restored := New(0)
	require.NoError(t, restored.UnmarshalBinary(data))
	assert.Equal(t, 3, restored.Len())
	assert.Equal(t, 2, restored.Dim())
	assert.False(t, restored.Contains("b"))

	got, err := restored.Search([]float32{0, 1}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "c", got[0].ID)

	_, _, _, err = Decode(data[:len(data)-3])
	assert.Error(t, err)
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	data := binary.LittleEndian.AppendUint32(nil, 384)
	data = binary.LittleEndian.AppendUint32(data, math.MaxUint32)
	data = append(data, make([]byte, 64)...)
	_, _, _, err := Decode(data)
	assert.Error(t, err)

	data = binary.LittleEndian.AppendUint32(nil, math.MaxUint32)
	data = binary.LittleEndian.AppendUint32(data, 2)
	_, _, _, err = Decode(data)
	assert.Error(t, err)
}

func TestEmptyIndex(t *testing.T) {
	got, err := New(0).Search([]float32{1}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
