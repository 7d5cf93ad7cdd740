package embed

import (
	"context"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
	"github.com/viant/memvec/model"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// Ollama embeds text through an Ollama server.
type Ollama struct {
	client  *ollama.Client
	model   string
	dims    int
	limiter limiter
}

// NewOllama creates an Ollama embedder. When opts.Dimensions is zero the
// dimension is probed with one request.
func NewOllama(ctx context.Context, opts Options) (*Ollama, error) {
	host := opts.Host
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, unavailable("ollama", err)
	}
	name := opts.Model
	if name == "" {
		name = DefaultOllamaModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	e := &Ollama{
		client:  ollama.NewClient(u, &http.Client{Timeout: timeout}),
		model:   name,
		dims:    opts.Dimensions,
		limiter: newLimiter(opts.RatePerSecond, opts.Burst),
	}
	if e.dims == 0 {
		if e.dims, err = probe(ctx, e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Ollama) Dimensions() int { return e.dims }
func (e *Ollama) Model() string   { return "ollama/" + e.model }

func (e *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	text = model.NormalizeContent(text)
	if text == "" {
		return nil, model.ErrEmptyInput
	}
	if err := e.limiter.wait(ctx); err != nil {
		return nil, err
	}
	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, unavailable(e.Model(), err)
	}
	if res == nil || len(res.Embeddings) == 0 {
		return nil, unavailable(e.Model(), errEmptyResponse)
	}
	return checkVector(e.Model(), e.dims, res.Embeddings[0])
}
