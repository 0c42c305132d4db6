package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gerrors "capgate/internal/errors"
)

// State represents the circuit breaker's operational state.
type State int

const (
	// StateClosed is normal operation, calls pass through.
	StateClosed State = iota
	// StateOpen rejects calls without running them.
	StateOpen
	// StateHalfOpen lets calls through to probe for recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening
	// the circuit (default 5).
	MaxFailures int
	// ResetTimeout is how long the circuit stays open before moving to
	// half-open (default 30s).
	ResetTimeout time.Duration
	// HalfOpenMax is the number of consecutive successes in half-open
	// state required to close the circuit (default 1).
	HalfOpenMax int
	// OnStateChange runs under the breaker lock on every transition.
	OnStateChange func(from, to State)
	// IsFailure reports whether an error from the protected call says
	// the dependency itself is unhealthy.  Errors it rejects count as
	// successful calls, since the dependency did answer.  Nil counts
	// every error.
	IsFailure func(error) bool
}

// CircuitBreaker short-circuits calls to a dependency after a run of
// consecutive failures.  Cancellation of the caller's context is not
// counted as a failure of the dependency.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	openedAt      time.Time
	onStateChange func(from, to State)
	isFailure     func(error) bool

	now func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = &CircuitBreakerConfig{}
	}
	cb := &CircuitBreaker{
		state:         StateClosed,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		isFailure:     cfg.IsFailure,
		now:           time.Now,
	}
	if cb.maxFailures <= 0 {
		cb.maxFailures = 5
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 30 * time.Second
	}
	if cb.halfOpenMax <= 0 {
		cb.halfOpenMax = 1
	}
	return cb
}

// Execute runs fn through the breaker.  When the circuit is open fn is
// not called and the returned error wraps [gerrors.ErrCircuitOpen].
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

// CurrentState returns the current state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successes = 0
	cb.transition(StateClosed)
}

// ── internal ─────────────────────────────────────────────────────────

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	elapsed := cb.now().Sub(cb.openedAt)
	if elapsed >= cb.resetTimeout {
		cb.successes = 0
		cb.transition(StateHalfOpen)
		return nil
	}
	return fmt.Errorf("%w: %d consecutive failures, retry in %v",
		gerrors.ErrCircuitOpen, cb.failures, (cb.resetTimeout - elapsed).Truncate(time.Second))
}

func (cb *CircuitBreaker) after(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil && cb.isFailure != nil && !cb.isFailure(err) {
		err = nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
		return
	}

	cb.successes++
	if cb.state == StateHalfOpen && cb.successes < cb.halfOpenMax {
		return
	}
	cb.failures = 0
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
