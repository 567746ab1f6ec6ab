package governance

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterConfig defines a per-target call rate.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// RateLimiter keeps one token bucket per target. Targets without a
// configured limit are never throttled.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a rate limiter with the provided per-target limits.
func NewRateLimiter(config map[string]RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{limiters: make(map[string]*rate.Limiter)}
	rl.Configure(config)
	return rl
}

// Configure replaces the per-target limits. Existing limiters keep their
// current token balance, capped at the new burst size.
func (rl *RateLimiter) Configure(config map[string]RateLimiterConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	next := make(map[string]*rate.Limiter, len(config))
	for target, cfg := range config {
		if cfg.RequestsPerSecond <= 0 {
			continue
		}
		burst := cfg.BurstSize
		if burst <= 0 {
			burst = 1
		}
		if lim, ok := rl.limiters[target]; ok {
			lim.SetLimit(rate.Limit(cfg.RequestsPerSecond))
			lim.SetBurst(burst)
			next[target] = lim
			continue
		}
		next[target] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	rl.limiters = next
}

// Allow consumes a token for target if one is available.
func (rl *RateLimiter) Allow(target string) bool {
	lim := rl.limiter(target)
	if lim == nil {
		return true
	}
	return lim.Allow()
}

// Wait blocks until target may be called or ctx ends. A wait that could not
// finish before the ctx deadline fails straight away with
// context.DeadlineExceeded.
func (rl *RateLimiter) Wait(ctx context.Context, target string) error {
	lim := rl.limiter(target)
	if lim == nil {
		return ctx.Err()
	}
	if err := lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := ctx.Deadline(); ok {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return err
	}
	return nil
}

func (rl *RateLimiter) limiter(target string) *rate.Limiter {
	if rl == nil {
		return nil
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiters[target]
}
