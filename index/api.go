package index

import (
	"fmt"

	"github.com/viant/memvec/index/bruteforce"
	"github.com/viant/memvec/index/cover"
	"github.com/viant/memvec/model"
)

// Index defines an in-memory vector index with incremental maintenance,
// candidate-restricted kNN queries and binary serialization.
type Index interface {
	// Build replaces the content with the given ids and vectors.
	Build(ids []string, vectors [][]float32) error

	// Upsert inserts or replaces the vector for id.
	Upsert(id string, vec []float32) error

	// Remove drops id and reports whether it was present.
	Remove(id string) bool

	// Search returns up to k matches ordered by decreasing cosine similarity,
	// ties broken by smaller id. A nil candidates slice searches the whole
	// index; otherwise only listed ids are eligible.
	Search(query []float32, k int, candidates []string) ([]model.Scored, error)

	// Vector returns the stored unit vector for id.
	Vector(id string) ([]float32, bool)

	// Entries iterates the indexed ids until fn returns false.
	Entries(fn func(id string, vec []float32) bool)

	Contains(id string) bool
	Len() int
	Dim() int

	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// Kind selects an index implementation.
type Kind string

const (
	KindAuto  Kind = "auto"
	KindBrute Kind = "brute"
	KindCover Kind = "cover"
)

const (
	autoCoverMinDocs            = 4000
	autoCoverMinDim             = 64
	autoCoverMinDensity float64 = 16
)

// ParseKind validates an index kind name; empty means auto.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case "", KindAuto:
		return KindAuto, nil
	case KindBrute, KindCover:
		return Kind(name), nil
	}
	return "", fmt.Errorf("%w: unknown index kind %q", model.ErrInvalidArgument, name)
}

// Resolve picks a concrete kind for the given collection shape. Auto selects
// the VP-tree once the store is large and dense enough to benefit from it.
func Resolve(kind Kind, docCount, dim int) Kind {
	if kind == KindBrute || kind == KindCover {
		return kind
	}
	if docCount >= autoCoverMinDocs && dim >= autoCoverMinDim {
		if density := float64(docCount) / float64(dim); density >= autoCoverMinDensity {
			return KindCover
		}
	}
	return KindBrute
}

// New returns an empty index of the given concrete kind.
func New(kind Kind, dim int) Index {
	if kind == KindCover {
		return cover.New(dim)
	}
	return bruteforce.New(dim)
}
