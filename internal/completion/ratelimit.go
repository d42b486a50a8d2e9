package completion

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles requests to an underlying client. Sessions share one
// RateLimited client so the provider quota is spread across all of them.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket of requestsPerSecond and
// burst. A non-positive rate disables limiting.
func NewRateLimited(next Client, requestsPerSecond float64, burst int) *RateLimited {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Complete waits for a token, then forwards the request.
func (r *RateLimited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return r.next.Complete(ctx, req)
}
