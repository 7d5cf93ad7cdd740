//go:build fastembed

package embed

import (
	"context"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/viant/memvec/model"
)

const fastEmbedAvailable = true

// FastEmbed runs an ONNX embedding model in process.
type FastEmbed struct {
	mu   sync.Mutex
	m    *fastembed.FlagEmbedding
	name string
	dims int
}

// NewFastEmbed loads the model named by opts.Model (default bge-small-en-v1.5).
func NewFastEmbed(ctx context.Context, opts Options) (Embedder, error) {
	init := &fastembed.InitOptions{
		Model:    fastembed.EmbeddingModel(opts.Model),
		CacheDir: opts.CacheDir,
	}
	if opts.Model == "" {
		init.Model = fastembed.BGESmallENV15
	}
	m, err := fastembed.NewFlagEmbedding(init)
	if err != nil {
		return nil, unavailable("fastembed", err)
	}
	e := &FastEmbed{m: m, name: "fastembed/" + string(init.Model), dims: opts.Dimensions}
	if e.dims == 0 {
		if e.dims, err = probe(ctx, e); err != nil {
			m.Destroy()
			return nil, err
		}
	}
	return e, nil
}

func (e *FastEmbed) Dimensions() int { return e.dims }
func (e *FastEmbed) Model() string   { return e.name }

func (e *FastEmbed) Embed(ctx context.Context, text string) ([]float32, error) {
	text = model.NormalizeContent(text)
	if text == "" {
		return nil, model.ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	vec, err := e.m.QueryEmbed(text)
	e.mu.Unlock()
	if err != nil {
		return nil, unavailable(e.name, err)
	}
	return checkVector(e.name, e.dims, vec)
}

func (e *FastEmbed) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.m != nil {
		e.m.Destroy()
		e.m = nil
	}
	return nil
}
