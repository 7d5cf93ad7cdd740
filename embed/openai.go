package embed

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/viant/memvec/model"
)

const DefaultOpenAIModel = "text-embedding-3-small"

var errEmptyResponse = errors.New("empty response")

// OpenAI embeds text through the OpenAI embeddings API or a compatible
// endpoint (opts.Host).
type OpenAI struct {
	client  *openai.Client
	model   string
	dims    int
	timeout time.Duration
	limiter limiter
}

// NewOpenAI creates an OpenAI embedder. When opts.Dimensions is zero the
// dimension is probed with one request.
func NewOpenAI(ctx context.Context, opts Options) (*OpenAI, error) {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.Host != "" {
		cfg.BaseURL = opts.Host
	}
	name := opts.Model
	if name == "" {
		name = DefaultOpenAIModel
	}
	e := &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   name,
		dims:    opts.Dimensions,
		timeout: opts.Timeout,
		limiter: newLimiter(opts.RatePerSecond, opts.Burst),
	}
	if e.dims == 0 {
		var err error
		if e.dims, err = probe(ctx, e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *OpenAI) Dimensions() int { return e.dims }
func (e *OpenAI) Model() string   { return "openai/" + e.model }

func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	text = model.NormalizeContent(text)
	if text == "" {
		return nil, model.ErrEmptyInput
	}
	if err := e.limiter.wait(ctx); err != nil {
		return nil, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, unavailable(e.Model(), err)
	}
	if len(resp.Data) == 0 {
		return nil, unavailable(e.Model(), errEmptyResponse)
	}
	return checkVector(e.Model(), e.dims, resp.Data[0].Embedding)
}
