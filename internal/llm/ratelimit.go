package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder wraps an Embedder with a token-bucket limiter so batch
// stores cannot flood a provider with embedding calls. Waiting respects the
// caller's context, so cancellation propagates instead of blocking.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps inner at rps requests per second with a burst
// matching the store batch size.
func NewRateLimitedEmbedder(inner Embedder, rps float64, burst int) *RateLimitedEmbedder {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Embed waits for limiter capacity, then delegates.
func (e *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.inner.Embed(ctx, text)
}

// Dimensions returns the wrapped embedder's dimension.
func (e *RateLimitedEmbedder) Dimensions() int { return e.inner.Dimensions() }

var _ Embedder = (*RateLimitedEmbedder)(nil)
