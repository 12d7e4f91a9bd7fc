// Package resilience provides fault-tolerance primitives: a circuit breaker,
// exponential-backoff retry, and a context-based timeout wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the phase of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
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

// CircuitBreakerConfig controls failure thresholds and recovery timing.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenMaxRequests probes may run concurrently while half-open.
	HalfOpenMaxRequests int
	// IsFailure decides whether an error counts against the dependency.
	// Errors it rejects are returned to the caller but leave the breaker
	// untouched. Nil counts every non-nil error.
	IsFailure func(error) bool
	// OnStateChange is called with the breaker's lock held; it must not
	// call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// Counts is a snapshot of breaker activity since it was created.
type Counts struct {
	Requests            int64
	Failures            int64
	Rejected            int64
	ConsecutiveFailures int
}

// CircuitBreaker opens after FailureThreshold consecutive failures, rejects
// calls for ResetTimeout, then lets a limited number of probes through. A
// successful probe closes it; a failed one reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	openedAt time.Time
	inFlight int // probes admitted while half-open
	// generation changes on every transition so results of calls admitted
	// under an earlier state are ignored.
	generation uint64
	counts     Counts
}

// NewCircuitBreaker creates a CircuitBreaker, filling in defaults for zero
// config values.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn when the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(gen, err)
	return err
}

// GetState returns the current state, moving an expired open circuit to
// half-open first.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireOpen()
	return cb.state
}

// Counts returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset forces the breaker closed and clears the failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.logger.Info("circuit manually reset")
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireOpen()

	switch cb.state {
	case StateOpen:
		cb.counts.Rejected++
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		return 0, fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenMaxRequests {
			cb.counts.Rejected++
			return 0, fmt.Errorf("%w: %s (half-open probe limit reached)", ErrCircuitOpen, cb.name)
		}
		cb.inFlight++
	}
	cb.counts.Requests++
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if gen != cb.generation {
		return
	}
	if cb.state == StateHalfOpen {
		cb.inFlight--
	}

	if err == nil || (cb.cfg.IsFailure != nil && !cb.cfg.IsFailure(err)) {
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
			cb.logger.Info("circuit closed (recovered)")
		}
		return
	}

	cb.counts.Failures++
	cb.counts.ConsecutiveFailures++
	switch {
	case cb.state == StateHalfOpen:
		cb.setState(StateOpen)
		cb.logger.Warn("circuit re-opened (half-open probe failed)", "error", err)
	case cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold:
		streak := cb.counts.ConsecutiveFailures
		cb.setState(StateOpen)
		cb.logger.Warn("circuit opened", "consecutive_failures", streak, "threshold", cb.cfg.FailureThreshold, "error", err)
	}
}

// expireOpen moves an open circuit whose timeout has passed to half-open.
func (cb *CircuitBreaker) expireOpen() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.setState(StateHalfOpen)
		cb.logger.Info("circuit transitioning to half-open", "after", cb.cfg.ResetTimeout)
	}
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.inFlight = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.counts.ConsecutiveFailures = 0
	}
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}
