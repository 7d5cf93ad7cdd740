package embed

import (
	"context"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/viant/memvec/model"
)

const (
	HashModel      = "hash-v1"
	HashDimensions = 384
	bigramWeight   = 0.5
)

// Hash embeds text by feature hashing lowercased word unigrams and bigrams
// into a fixed number of buckets, then L2-normalizing.
type Hash struct {
	dims int
	name string
}

// NewHash returns a hash embedder; dims <= 0 selects HashDimensions.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = HashDimensions
	}
	name := HashModel
	if dims != HashDimensions {
		name = HashModel + "-" + strconv.Itoa(dims)
	}
	return &Hash{dims: dims, name: name}
}

func (h *Hash) Dimensions() int { return h.dims }
func (h *Hash) Model() string   { return h.name }

func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized := model.NormalizeContent(text)
	if normalized == "" {
		return nil, model.ErrEmptyInput
	}
	words := strings.FieldsFunc(strings.ToLower(normalized), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		words = []string{normalized}
	}
	acc := make([]float64, h.dims)
	for i, w := range words {
		acc[h.bucket(w)] += 1
		if i > 0 {
			acc[h.bucket(words[i-1]+" "+w)] += bigramWeight
		}
	}
	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, h.dims)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (h *Hash) bucket(token string) int {
	return int(xxhash.Sum64String(token) % uint64(h.dims))
}
