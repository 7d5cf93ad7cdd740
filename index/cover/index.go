package cover

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/viant/memvec/index/bruteforce"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vector"
)

// narrowRatio selects a plain scan when the candidate set is at most this
// fraction of the index.
const narrowRatio = 0.25

// Index implements a cosine kNN index using a VP-tree to prune search.
// It serializes using the brute-force encoding for compatibility.
type Index struct {
	store *bruteforce.Index

	mu    sync.Mutex
	root  *node
	dirty bool
}

type node struct {
	slot  uint32
	thr   float64
	left  *node
	right *node
}

// New returns an empty index.
func New(dim int) *Index {
	return &Index{store: bruteforce.New(dim), dirty: true}
}

func (i *Index) Dim() int                { return i.store.Dim() }
func (i *Index) Len() int                { return i.store.Len() }
func (i *Index) Contains(id string) bool { return i.store.Contains(id) }

func (i *Index) Vector(id string) ([]float32, bool) { return i.store.Vector(id) }

func (i *Index) Entries(fn func(id string, vec []float32) bool) { i.store.Entries(fn) }

// Build replaces the index content and marks the tree for rebuild.
func (i *Index) Build(ids []string, vectors [][]float32) error {
	if err := i.store.Build(ids, vectors); err != nil {
		return err
	}
	i.invalidate()
	return nil
}

// Upsert inserts or replaces the vector for id.
func (i *Index) Upsert(id string, vec []float32) error {
	if err := i.store.Upsert(id, vec); err != nil {
		return err
	}
	i.invalidate()
	return nil
}

// Remove drops id and reports whether it was present.
func (i *Index) Remove(id string) bool {
	ok := i.store.Remove(id)
	if ok {
		i.invalidate()
	}
	return ok
}

func (i *Index) invalidate() {
	i.mu.Lock()
	i.dirty = true
	i.root = nil
	i.mu.Unlock()
}

func (i *Index) tree() *node {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.dirty {
		return i.root
	}
	slots := i.store.Restrict(nil).ToArray()
	i.root = i.buildVP(slots)
	i.dirty = false
	return i.root
}

func (i *Index) buildVP(slots []uint32) *node {
	if len(slots) == 0 {
		return nil
	}
	// last slot is the vantage point
	vp := slots[len(slots)-1]
	slots = slots[:len(slots)-1]
	if len(slots) == 0 {
		return &node{slot: vp}
	}
	_, vpVec := i.store.At(vp)
	dists := make([]float64, len(slots))
	for k, s := range slots {
		_, v := i.store.At(s)
		dists[k] = angular(vpVec, v)
	}
	order := make([]int, len(slots))
	for k := range order {
		order[k] = k
	}
	sort.Slice(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })
	mid := len(slots) / 2
	thr := dists[order[mid]]
	left := make([]uint32, 0, mid+1)
	right := make([]uint32, 0, len(slots)-(mid+1))
	for rank, k := range order {
		if rank <= mid {
			left = append(left, slots[k])
		} else {
			right = append(right, slots[k])
		}
	}
	return &node{slot: vp, thr: thr, left: i.buildVP(left), right: i.buildVP(right)}
}

// Search returns up to k ids ordered by decreasing cosine similarity, ties
// broken by smaller id. candidates restricts the result; nil means all.
func (i *Index) Search(query []float32, k int, candidates []string) ([]model.Scored, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", model.ErrInvalidArgument, k)
	}
	total := i.store.Len()
	if total == 0 {
		return nil, nil
	}
	if dim := i.store.Dim(); len(query) != dim {
		return nil, &model.DimensionError{Expected: dim, Actual: len(query)}
	}
	q := vector.Normalize(query)
	if vector.Magnitude(q) == 0 {
		return nil, nil
	}
	var allow *roaring.Bitmap
	if candidates != nil {
		allow = i.store.Restrict(candidates)
		if float64(allow.GetCardinality()) <= narrowRatio*float64(total) {
			return i.store.ScanSlots(q, k, allow), nil
		}
	}
	root := i.tree()
	top := &bruteforce.TopK{K: k}
	var visit func(n *node)
	visit = func(n *node) {
		if n == nil {
			return
		}
		id, v := i.store.At(n.slot)
		if v == nil {
			return
		}
		d := angular(q, v)
		if allow == nil || allow.Contains(n.slot) {
			top.Offer(model.Scored{ID: id, Score: vector.Clamp(vector.Dot(q, v))})
		}
		// radius widened by an epsilon so equal-score ties are not pruned
		r := math.Inf(1)
		if top.Full() {
			r = angularOf(top.Worst().Score) + 1e-9
		}
		if d < n.thr {
			if d-r <= n.thr {
				visit(n.left)
			}
			if top.Full() {
				r = angularOf(top.Worst().Score) + 1e-9
			}
			if d+r >= n.thr {
				visit(n.right)
			}
			return
		}
		if d+r >= n.thr {
			visit(n.right)
		}
		if top.Full() {
			r = angularOf(top.Worst().Score) + 1e-9
		}
		if d-r <= n.thr {
			visit(n.left)
		}
	}
	visit(root)
	return top.Sorted(), nil
}

// MarshalBinary uses the brute-force format for persistence.
func (i *Index) MarshalBinary() ([]byte, error) { return i.store.MarshalBinary() }

// UnmarshalBinary loads brute-force format and marks the tree for rebuild.
func (i *Index) UnmarshalBinary(data []byte) error {
	if err := i.store.UnmarshalBinary(data); err != nil {
		return err
	}
	i.invalidate()
	return nil
}

// angular returns the angle between unit vectors a and b, a proper metric.
func angular(a, b []float32) float64 {
	return angularOf(vector.Clamp(vector.Dot(a, b)))
}

func angularOf(cos float64) float64 { return math.Acos(vector.Clamp(cos)) }
