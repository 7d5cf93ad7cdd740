package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/viant/memvec/model"
)

// Provider names an embedding implementation.
type Provider string

const (
	ProviderHash      Provider = "hash"
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderFastEmbed Provider = "fastembed"
)

// Options configures New.
type Options struct {
	Provider      Provider
	Model         string
	Host          string
	APIKey        string
	Dimensions    int
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	CacheDir      string
	// CacheSize bounds the embedding cache; negative disables it.
	CacheSize int
}

// ParseProvider validates a provider name; empty means hash.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(name); p {
	case "":
		return ProviderHash, nil
	case ProviderHash, ProviderOllama, ProviderOpenAI, ProviderFastEmbed:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown embedding provider %q", model.ErrInvalidArgument, name)
}

// New builds the configured embedder, wrapped in a cache unless disabled.
func New(ctx context.Context, opts Options) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch opts.Provider {
	case ProviderHash, "":
		e = NewHash(opts.Dimensions)
	case ProviderOllama:
		e, err = NewOllama(ctx, opts)
	case ProviderOpenAI:
		e, err = NewOpenAI(ctx, opts)
	case ProviderFastEmbed:
		e, err = NewFastEmbed(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", model.ErrInvalidArgument, opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize < 0 {
		return e, nil
	}
	cached, err := NewCached(e, opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return cached, nil
}
