package services

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// FetchRateLimiter bounds outbound context requests per module so one busy
// module cannot flood its provider
type FetchRateLimiter struct {
	perModuleLimiters *sync.Map // map[string]*rate.Limiter
	limit             rate.Limit
	burst             int
}

// NewFetchRateLimiter creates a per-module limiter. A non-positive rate disables limiting.
func NewFetchRateLimiter(requestsPerSecond float64, burst int) *FetchRateLimiter {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &FetchRateLimiter{
		perModuleLimiters: &sync.Map{},
		limit:             limit,
		burst:             burst,
	}
}

// Wait blocks until the module may issue another request or ctx is done
func (rl *FetchRateLimiter) Wait(ctx context.Context, moduleID string) error {
	if rl == nil {
		return nil
	}
	return rl.getOrCreateModuleLimiter(moduleID).Wait(ctx)
}

// getOrCreateModuleLimiter gets or creates the limiter for a module
func (rl *FetchRateLimiter) getOrCreateModuleLimiter(moduleID string) *rate.Limiter {
	if limiter, ok := rl.perModuleLimiters.Load(moduleID); ok {
		return limiter.(*rate.Limiter)
	}

	newLimiter := rate.NewLimiter(rl.limit, rl.burst)

	// Try to store, but use existing if another goroutine created it first
	actual, _ := rl.perModuleLimiters.LoadOrStore(moduleID, newLimiter)
	return actual.(*rate.Limiter)
}
