package governance

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is in the open state.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed CircuitBreakerState = "closed"
	// StateOpen indicates the circuit is open and calls are rejected.
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen indicates the circuit is probing whether the target recovered.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig defines thresholds for circuit breaking.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the circuit.
	// Zero disables the breaker.
	MaxFailures int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenProbes is the number of concurrent probe calls allowed while half-open.
	HalfOpenProbes int
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:    5,
		Cooldown:       30 * time.Second,
		HalfOpenProbes: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern for one target.
type CircuitBreaker struct {
	mu       sync.Mutex
	state    CircuitBreakerState
	config   CircuitBreakerConfig
	failures int
	probes   int
	openedAt time.Time
	now      func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the provided configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures < 0 {
		config.MaxFailures = 0
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCircuitBreakerConfig().Cooldown
	}
	if config.HalfOpenProbes <= 0 {
		config.HalfOpenProbes = 1
	}
	return &CircuitBreaker{state: StateClosed, config: config, now: time.Now}
}

// ExecuteContext runs fn unless the circuit is open. Only transient failures
// count against the circuit; cancellations by the caller do not.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.config.MaxFailures == 0 {
		return nil
	}

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenProbes {
			return ErrCircuitOpen
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.config.MaxFailures == 0 {
		return
	}
	if errors.Is(err, context.Canceled) {
		if cb.state == StateHalfOpen && cb.probes > 0 {
			cb.probes--
		}
		return
	}

	if err == nil {
		cb.failures = 0
		cb.state = StateClosed
		cb.probes = 0
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.probes = 0
	}
}

// State returns the current state, reporting an expired open circuit as
// half-open.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
}

// CircuitBreakerManager hands out one breaker per target.
type CircuitBreakerManager struct {
	mu       sync.Mutex
	config   CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates a manager that builds breakers from config.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{config: config, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for target, creating it on first use.
func (m *CircuitBreakerManager) Get(target string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[target]; ok {
		return cb
	}
	cb := NewCircuitBreaker(m.config)
	m.breakers[target] = cb
	return cb
}

// States reports the state of every breaker created so far.
func (m *CircuitBreakerManager) States() map[string]CircuitBreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]CircuitBreakerState, len(m.breakers))
	for target, cb := range m.breakers {
		out[target] = cb.State()
	}
	return out
}
