package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/itsneelabh/apiflow/core"
)

// RateLimitedClient throttles calls to an underlying client with a token bucket.
type RateLimitedClient struct {
	next    core.AIClient
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps next. A non-positive rps disables throttling.
func NewRateLimitedClient(next core.AIClient, rps float64, burst int) *RateLimitedClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// GenerateResponse waits for a token, then delegates.
func (c *RateLimitedClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("rate limit: %w: %w", core.ErrTimeout, err)
	}
	return c.next.GenerateResponse(ctx, prompt, options)
}
