package embed

import (
	"context"
	"fmt"
	"math"

	"github.com/viant/memvec/model"
)

// Embedder maps text to a vector. Implementations are deterministic per
// model and safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
}

// Func adapts a plain function to Embedder.
type Func struct {
	Fn   func(ctx context.Context, text string) ([]float32, error)
	Name string
	Dims int
}

func (f *Func) Embed(ctx context.Context, text string) ([]float32, error) {
	if model.NormalizeContent(text) == "" {
		return nil, model.ErrEmptyInput
	}
	vec, err := f.Fn(ctx, text)
	if err != nil {
		return nil, unavailable(f.Name, err)
	}
	return checkVector(f.Name, f.Dims, vec)
}

func (f *Func) Dimensions() int { return f.Dims }
func (f *Func) Model() string   { return f.Name }

// Closer is implemented by embedders holding native resources.
type Closer interface {
	Close() error
}

func unavailable(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrEmbeddingUnavailable, name, err)
}

// checkVector rejects empty, non-finite or wrongly sized provider output.
func checkVector(name string, dims int, vec []float32) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: %s: empty embedding", model.ErrEmbeddingUnavailable, name)
	}
	if dims > 0 && len(vec) != dims {
		return nil, &model.DimensionError{Expected: dims, Actual: len(vec)}
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: %s: non-finite component", model.ErrEmbeddingUnavailable, name)
		}
	}
	return vec, nil
}
