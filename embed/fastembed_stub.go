//go:build !fastembed

package embed

import (
	"context"
	"fmt"

	"github.com/viant/memvec/model"
)

const fastEmbedAvailable = false

// NewFastEmbed reports that the binary was built without the fastembed tag.
func NewFastEmbed(context.Context, Options) (Embedder, error) {
	return nil, fmt.Errorf("%w: fastembed support not compiled in (build with -tags fastembed)", model.ErrEmbeddingUnavailable)
}
