package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/polisai/polis-triage/pkg/domain"
)

// CallStats describes how a governed call went.
type CallStats struct {
	Attempts int
	Duration time.Duration
}

// Retries is the number of attempts beyond the first.
func (s CallStats) Retries() int {
	if s.Attempts <= 1 {
		return 0
	}
	return s.Attempts - 1
}

// CallPolicyConfig configures a CallPolicy.
type CallPolicyConfig struct {
	// Timeout bounds each attempt. Zero leaves attempts unbounded.
	Timeout  time.Duration
	Retry    RetryConfig
	Breakers *CircuitBreakerManager
	Limiter  *RateLimiter
	Logger   *slog.Logger
}

// CallPolicy applies timeout, retry, circuit breaking, and rate limiting to
// collaborator calls and classifies their failures.
type CallPolicy struct {
	timeout  time.Duration
	retry    *RetryPolicy
	breakers *CircuitBreakerManager
	limiter  *RateLimiter
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCallPolicy creates a CallPolicy from cfg.
func NewCallPolicy(cfg CallPolicyConfig) *CallPolicy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CallPolicy{
		timeout:  cfg.Timeout,
		retry:    NewRetryPolicy(cfg.Retry),
		breakers: cfg.Breakers,
		limiter:  cfg.Limiter,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Timeout returns the per-attempt deadline.
func (p *CallPolicy) Timeout() time.Duration { return p.timeout }

// Call runs fn against target under the policy. Failures come back as
// *domain.TimeoutError or *domain.TransportError; errors fn already
// classified as structural pass through untouched, and so does cancellation
// of ctx itself.
func (p *CallPolicy) Call(ctx context.Context, target string, fn func(context.Context) (string, error)) (string, CallStats, error) {
	started := time.Now()
	stats := CallStats{}
	maxRetries := p.retry.Config().MaxRetries

	for attempt := 0; ; attempt++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx, target); err != nil {
				stats.Duration = time.Since(started)
				return "", stats, fmt.Errorf("waiting for %s rate limit: %w", target, err)
			}
		}

		stats.Attempts++
		out, err := p.attempt(ctx, target, fn)
		if err == nil {
			stats.Duration = time.Since(started)
			return out, stats, nil
		}

		if ctx.Err() != nil {
			stats.Duration = time.Since(started)
			return "", stats, fmt.Errorf("call to %s abandoned: %w", target, ctx.Err())
		}

		if attempt >= maxRetries || !IsRetryableError(err) || domain.IsStructural(err) {
			stats.Duration = time.Since(started)
			return "", stats, classify(target, p.timeout, err)
		}

		delay := p.retry.CalculateBackoff(attempt)
		p.logger.Warn("collaborator call failed; retrying",
			"target", target,
			"attempt", attempt+1,
			"backoff", delay,
			"error", err,
		)
		if err := p.sleep(ctx, delay); err != nil {
			stats.Duration = time.Since(started)
			return "", stats, fmt.Errorf("call to %s abandoned: %w", target, err)
		}
	}
}

func (p *CallPolicy) attempt(ctx context.Context, target string, fn func(context.Context) (string, error)) (string, error) {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	defer cancel()

	var out string
	run := func(c context.Context) error {
		var err error
		out, err = fn(c)
		return err
	}

	var err error
	if p.breakers != nil {
		err = p.breakers.Get(target).ExecuteContext(attemptCtx, run)
	} else {
		err = run(attemptCtx)
	}

	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return out, err
}

func classify(target string, timeout time.Duration, err error) error {
	switch {
	case domain.IsStructural(err):
		return err
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrTransport):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.TimeoutError{Target: target, After: timeout}
	default:
		return &domain.TransportError{Target: target, Err: err}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
