package providers

import (
	"context"

	"github.com/haasonsaas/tinker/internal/agent"
	"github.com/haasonsaas/tinker/internal/ratelimit"
)

// RateLimited paces completion requests through a token bucket before
// delegating to the wrapped provider.
type RateLimited struct {
	inner  agent.Provider
	bucket *ratelimit.Bucket
}

// NewRateLimited wraps provider. A nil bucket passes requests through
// unchanged.
func NewRateLimited(provider agent.Provider, bucket *ratelimit.Bucket) *RateLimited {
	return &RateLimited{inner: provider, bucket: bucket}
}

func (r *RateLimited) Name() string { return r.inner.Name() }

func (r *RateLimited) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	if err := r.bucket.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Complete(ctx, req)
}
