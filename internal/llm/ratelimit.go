// ABOUTME: Token bucket rate limiting decorator for LLM clients
// ABOUTME: Waits for a token before each call, honoring the caller's context

package llm

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"
)

// RateLimitedClient delays calls so they do not exceed a configured rate
type RateLimitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// RateLimited wraps client with a limiter allowing rps requests per second
// and bursts of up to burst requests. A burst below one is treated as
// ceil(rps). A non-positive rps returns client unchanged.
func RateLimited(client Client, rps float64, burst int) Client {
	if rps <= 0 {
		return client
	}
	if burst < 1 {
		burst = int(math.Ceil(rps))
	}
	return &RateLimitedClient{
		next:    client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete implements Client
func (r *RateLimitedClient) Complete(ctx context.Context, req *Request) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return r.next.Complete(ctx, req)
}
