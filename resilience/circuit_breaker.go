package resilience

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
)

// ErrCircuitBreakerOpen is returned without calling the guarded function
// while the breaker is open.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int

	// Cooldown is how long the circuit stays open before letting a probe through
	Cooldown time.Duration

	// MaxConcurrentRequests is the max probes allowed in Half-Open state
	MaxConcurrentRequests int

	// SuccessThreshold is the number of consecutive successes needed in Half-Open to go to Closed
	SuccessThreshold int

	// IsFailure decides whether an error counts against the circuit. Errors
	// it rejects are treated as successful calls. nil counts every error.
	IsFailure func(error) bool
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:           5,
		Cooldown:              30 * time.Second,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      2,
	}
}

// CircuitBreaker stops calling a dependency after repeated failures and
// probes it again once the cooldown has passed.
type CircuitBreaker struct {
	config   CircuitBreakerConfig
	clock    clock.Clock
	onChange func(from, to CircuitBreakerState)

	mu        sync.Mutex
	state     CircuitBreakerState
	failures  int
	successes int
	requests  int
	openedAt  time.Time
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock sets the clock used for the cooldown.
func WithClock(c clock.Clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithStateChange registers fn to be called on every transition. fn runs
// with the breaker locked and must not call back into it.
func WithStateChange(fn func(from, to CircuitBreakerState)) Option {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig, opts ...Option) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = def.MaxConcurrentRequests
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	cb := &CircuitBreaker{config: config, clock: clock.New()}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute calls fn unless the circuit is open and records its outcome.
// fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.beforeRequest()
	if err != nil {
		return err
	}
	err = fn()
	cb.afterRequest(probe, err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.clock.Since(cb.openedAt) < cb.config.Cooldown {
			return false, ErrCircuitBreakerOpen
		}
		cb.transition(StateHalfOpen)
	}
	// half-open
	if cb.requests >= cb.config.MaxConcurrentRequests {
		return false, ErrCircuitBreakerOpen
	}
	cb.requests++
	return true, nil
}

func (cb *CircuitBreaker) afterRequest(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe && cb.requests > 0 {
		cb.requests--
	}
	if err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err)) {
		cb.onFailure()
		return
	}
	cb.onSuccess()
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	from := cb.state
	cb.state = to
	cb.successes = 0
	cb.requests = 0
	switch to {
	case StateClosed:
		cb.failures = 0
	case StateOpen:
		cb.openedAt = cb.clock.Now()
	}
	if cb.onChange != nil && from != to {
		cb.onChange(from, to)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

// CircuitBreakerStats is a point-in-time copy of the breaker counters.
type CircuitBreakerStats struct {
	State     CircuitBreakerState
	Failures  int
	Successes int
	Requests  int
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:     cb.state,
		Failures:  cb.failures,
		Successes: cb.successes,
		Requests:  cb.requests,
	}
}
