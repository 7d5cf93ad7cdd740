package bruteforce

import (
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vector"
)

// Index is a brute-force vector index implementing cosine similarity.
// Vectors are stored unit-normalized so a score is a single dot product.
// It is safe for concurrent use.
type Index struct {
	mu    sync.RWMutex
	dim   int
	slots map[string]uint32
	ids   []string
	vecs  [][]float32
	live  *roaring.Bitmap
	free  []uint32
}

// New returns an empty index. dim may be zero, in which case the first
// upsert fixes it.
func New(dim int) *Index {
	return &Index{dim: dim, slots: map[string]uint32{}, live: roaring.New()}
}

// Dim returns the index dimension, zero while empty and unfixed.
func (i *Index) Dim() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.dim
}

// Len returns the number of indexed vectors.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.slots)
}

// Contains reports whether id is indexed.
func (i *Index) Contains(id string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.slots[id]
	return ok
}

// Build replaces the index content with the given ids and vectors.
func (i *Index) Build(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("bruteforce: ids and vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for j := range vectors {
		if len(vectors[j]) != dim {
			return &model.DimensionError{Expected: dim, Actual: len(vectors[j])}
		}
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if dim == 0 {
		dim = i.dim
	}
	i.dim = dim
	i.slots = make(map[string]uint32, len(ids))
	i.ids = make([]string, 0, len(ids))
	i.vecs = make([][]float32, 0, len(ids))
	i.live = roaring.New()
	i.free = nil
	for j, id := range ids {
		if _, dup := i.slots[id]; dup {
			return fmt.Errorf("bruteforce: duplicate id %q", id)
		}
		i.appendLocked(id, vectors[j])
	}
	return nil
}

func (i *Index) appendLocked(id string, vec []float32) {
	slot := uint32(len(i.ids))
	i.ids = append(i.ids, id)
	i.vecs = append(i.vecs, vector.Normalize(vec))
	i.slots[id] = slot
	i.live.Add(slot)
}

// Upsert inserts or replaces the vector for id.
func (i *Index) Upsert(id string, vec []float32) error {
	if id == "" {
		return fmt.Errorf("bruteforce: empty id")
	}
	if len(vec) == 0 {
		return fmt.Errorf("bruteforce: empty vector for %q", id)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.dim == 0 {
		i.dim = len(vec)
	}
	if len(vec) != i.dim {
		return &model.DimensionError{Expected: i.dim, Actual: len(vec)}
	}
	if slot, ok := i.slots[id]; ok {
		i.vecs[slot] = vector.Normalize(vec)
		return nil
	}
	if n := len(i.free); n > 0 {
		slot := i.free[n-1]
		i.free = i.free[:n-1]
		i.ids[slot] = id
		i.vecs[slot] = vector.Normalize(vec)
		i.slots[id] = slot
		i.live.Add(slot)
		return nil
	}
	i.appendLocked(id, vec)
	return nil
}

// Remove drops id from the index and reports whether it was present.
func (i *Index) Remove(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	slot, ok := i.slots[id]
	if !ok {
		return false
	}
	delete(i.slots, id)
	i.live.Remove(slot)
	i.ids[slot] = ""
	i.vecs[slot] = nil
	i.free = append(i.free, slot)
	return true
}

// Vector returns a copy of the stored (normalized) vector for id.
func (i *Index) Vector(id string) ([]float32, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	slot, ok := i.slots[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), i.vecs[slot]...), true
}

// Entries calls fn for every indexed id and its normalized vector until fn
// returns false. The index is read-locked for the duration.
func (i *Index) Entries(fn func(id string, vec []float32) bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	it := i.live.Iterator()
	for it.HasNext() {
		slot := it.Next()
		if !fn(i.ids[slot], i.vecs[slot]) {
			return
		}
	}
}

// Restrict resolves candidate ids to a bitmap of live slots. Unknown ids are
// ignored. A nil candidates slice selects every live slot.
func (i *Index) Restrict(candidates []string) *roaring.Bitmap {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.restrictLocked(candidates)
}

func (i *Index) restrictLocked(candidates []string) *roaring.Bitmap {
	if candidates == nil {
		return i.live.Clone()
	}
	bm := roaring.New()
	for _, id := range candidates {
		if slot, ok := i.slots[id]; ok {
			bm.Add(slot)
		}
	}
	return bm
}

// Search returns up to k ids ordered by decreasing cosine similarity, ties
// broken by smaller id. candidates restricts the scan; nil means all.
func (i *Index) Search(query []float32, k int, candidates []string) ([]model.Scored, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", model.ErrInvalidArgument, k)
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(i.slots) == 0 {
		return nil, nil
	}
	if len(query) != i.dim {
		return nil, &model.DimensionError{Expected: i.dim, Actual: len(query)}
	}
	q := vector.Normalize(query)
	if vector.Magnitude(q) == 0 {
		return nil, nil
	}
	return i.scanLocked(q, k, i.restrictLocked(candidates)), nil
}

// ScanSlots scores the given slots against an already normalized query.
func (i *Index) ScanSlots(q []float32, k int, slots *roaring.Bitmap) []model.Scored {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.scanLocked(q, k, slots)
}

func (i *Index) scanLocked(q []float32, k int, slots *roaring.Bitmap) []model.Scored {
	top := &TopK{K: k}
	it := slots.Iterator()
	for it.HasNext() {
		slot := it.Next()
		v := i.vecs[slot]
		if v == nil {
			continue
		}
		s := vector.Clamp(vector.Dot(q, v))
		top.Offer(model.Scored{ID: i.ids[slot], Score: s})
	}
	return top.Sorted()
}

// Slot returns the internal slot of id.
func (i *Index) Slot(id string) (uint32, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	slot, ok := i.slots[id]
	return slot, ok
}

// At returns the id and normalized vector stored in slot.
func (i *Index) At(slot uint32) (string, []float32) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if int(slot) >= len(i.ids) {
		return "", nil
	}
	return i.ids[slot], i.vecs[slot]
}

// MarshalBinary stores: dim(uint32), n(uint32), then for each item:
// idLen(uint32), id bytes, vec(float32[dim]).
func (i *Index) MarshalBinary() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	size := 8
	for id := range i.slots {
		size += 4 + len(id) + 4*i.dim
	}
	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, uint32(i.dim))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(i.slots)))
	it := i.live.Iterator()
	for it.HasNext() {
		slot := it.Next()
		id := i.ids[slot]
		out = binary.LittleEndian.AppendUint32(out, uint32(len(id)))
		out = append(out, id...)
		for _, v := range i.vecs[slot] {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out, nil
}

// UnmarshalBinary restores the index from bytes.
func (i *Index) UnmarshalBinary(data []byte) error {
	ids, vecs, dim, err := Decode(data)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.dim = dim
	i.mu.Unlock()
	return i.Build(ids, vecs)
}

// Decode parses the binary format written by MarshalBinary.
func Decode(data []byte) ([]string, [][]float32, int, error) {
	if len(data) < 8 {
		return nil, nil, 0, errors.New("bruteforce: invalid data")
	}
	off := 0
	getU32 := func() uint32 { v := binary.LittleEndian.Uint32(data[off : off+4]); off += 4; return v }
	dim32, n32 := getU32(), getU32()
	// every entry holds at least an id length and dim floats
	per := 4 + 4*uint64(dim32)
	if uint64(n32) > uint64(len(data)-off)/per {
		return nil, nil, 0, errors.New("bruteforce: entry count exceeds data")
	}
	dim, n := int(dim32), int(n32)
	ids := make([]string, 0, n)
	vecs := make([][]float32, 0, n)
	for idx := 0; idx < n; idx++ {
		if off+4 > len(data) {
			return nil, nil, 0, errors.New("bruteforce: truncated")
		}
		idlen := int(getU32())
		if off+idlen > len(data) {
			return nil, nil, 0, errors.New("bruteforce: truncated id")
		}
		id := string(data[off : off+idlen])
		off += idlen
		if off+4*dim > len(data) {
			return nil, nil, 0, errors.New("bruteforce: truncated vec")
		}
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(getU32())
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	return ids, vecs, dim, nil
}

// TopK keeps the k best matches seen so far.
type TopK struct {
	K     int
	items scoredHeap
}

// Offer considers s for the result set.
func (t *TopK) Offer(s model.Scored) {
	if t.K <= 0 {
		return
	}
	if len(t.items) < t.K {
		heap.Push(&t.items, s)
		return
	}
	if worse(t.items[0], s) {
		t.items[0] = s
		heap.Fix(&t.items, 0)
	}
}

// Full reports whether k matches are held.
func (t *TopK) Full() bool { return len(t.items) >= t.K }

// Worst returns the weakest held match.
func (t *TopK) Worst() model.Scored { return t.items[0] }

// Sorted returns the held matches best first.
func (t *TopK) Sorted() []model.Scored {
	out := make([]model.Scored, len(t.items))
	copy(out, t.items)
	model.SortScored(out)
	return out
}

// worse reports whether a ranks below b: lower score, or equal score and larger id.
func worse(a, b model.Scored) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

// scoredHeap is a min-heap keeping the weakest match on top.
type scoredHeap []model.Scored

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(model.Scored)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
