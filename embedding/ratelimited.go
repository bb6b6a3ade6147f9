package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited 包装一个 Provider，对上游 API 调用做速率限制。
// Wait 会在限流时阻塞，ctx 取消则立即返回，适合与每查询超时配合使用。
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps provider with a token-bucket limiter of rps
// requests per second and the given burst.
func NewRateLimited(inner Provider, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Embed waits for limiter admission, then delegates.
func (r *RateLimited) Embed(ctx context.Context, req *Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, req)
}

// EmbedQuery waits for limiter admission, then delegates.
func (r *RateLimited) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedQuery(ctx, query)
}

// EmbedDocuments waits for limiter admission, then delegates.
func (r *RateLimited) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedDocuments(ctx, documents)
}

func (r *RateLimited) Name() string    { return r.inner.Name() }
func (r *RateLimited) Dimensions() int { return r.inner.Dimensions() }
