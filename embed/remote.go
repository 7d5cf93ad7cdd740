package embed

import (
	"context"

	"golang.org/x/time/rate"
)

// limiter throttles calls to a remote provider; a nil limiter never blocks.
type limiter struct {
	l *rate.Limiter
}

func newLimiter(perSecond float64, burst int) limiter {
	if perSecond <= 0 {
		return limiter{}
	}
	if burst <= 0 {
		burst = 1
	}
	return limiter{l: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l limiter) wait(ctx context.Context) error {
	if l.l == nil {
		return nil
	}
	return l.l.Wait(ctx)
}

// probe embeds a fixed text to learn the provider's dimension.
func probe(ctx context.Context, e Embedder) (int, error) {
	vec, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}
