package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Cooldown: time.Minute})
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }

	assert.ErrorIs(t, cb.ExecuteContext(context.Background(), fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.ExecuteContext(context.Background(), fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.ExecuteContext(context.Background(), ok), ErrCircuitOpen)

	now = now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.ExecuteContext(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Second})
	cb.now = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("down") }
	require.Error(t, cb.ExecuteContext(context.Background(), fail))
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	require.Error(t, cb.ExecuteContext(context.Background(), fail))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Minute})
	canceled := func(context.Context) error { return context.Canceled }

	assert.ErrorIs(t, cb.ExecuteContext(context.Background(), canceled), context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 0})
	for i := 0; i < 10; i++ {
		require.Error(t, cb.ExecuteContext(context.Background(), func(context.Context) error {
			return errors.New("x")
		}))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestRetryBackoffGrowsAndCaps(t *testing.T) {
	rp := NewRetryPolicy(RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
	})
	assert.Equal(t, 100*time.Millisecond, rp.CalculateBackoff(0))
	assert.Equal(t, 200*time.Millisecond, rp.CalculateBackoff(1))
	assert.Equal(t, 400*time.Millisecond, rp.CalculateBackoff(2))
	assert.Equal(t, time.Second, rp.CalculateBackoff(10))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked", Retryable(errors.New("x")), true},
		{"unavailable", errors.New("worker returned status 503"), true},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"deadline", context.DeadlineExceeded, false},
		{"canceled", context.Canceled, false},
		{"open circuit", ErrCircuitOpen, false},
		{"bad request", errors.New("status 400"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryableError(tc.err))
		})
	}
}
