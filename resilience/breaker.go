// Package resilience keeps a scan moving when probes start failing: a
// circuit breaker pauses probing after a burst of failures and a retry
// policy spaces out attempts.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	// Closed lets every call through.
	Closed State = iota
	// Open rejects calls until the recovery timeout passes.
	Open
	// HalfOpen lets calls through while testing for recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open that close it.
	SuccessThreshold int
	// RecoveryTimeout is how long after the last failure an open breaker
	// moves to half-open.
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns the thresholds used by the scan engine.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 50,
		SuccessThreshold: 5,
		RecoveryTimeout:  2 * time.Second,
	}
}

// CircuitBreaker is safe for concurrent use. The lock only guards counter
// updates; callers never hold it across I/O.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	now      func() time.Time
	log      *slog.Logger
	onChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker. Zero thresholds are raised to 1.
func NewCircuitBreaker(cfg BreakerConfig, log *slog.Logger) *CircuitBreaker {
	cfg.FailureThreshold = max(cfg.FailureThreshold, 1)
	cfg.SuccessThreshold = max(cfg.SuccessThreshold, 1)
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, log: log}
}

// OnStateChange registers fn to run after every transition. fn runs without
// the breaker lock held.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// CanExecute reports whether a call may proceed. An open breaker whose
// recovery timeout has elapsed moves to half-open here.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	switch cb.state {
	case Closed, HalfOpen:
		cb.mu.Unlock()
		return true
	}
	if cb.now().Sub(cb.lastFailure) < cb.cfg.RecoveryTimeout {
		cb.mu.Unlock()
		return false
	}
	notify := cb.transition(HalfOpen)
	cb.mu.Unlock()
	notify()
	return true
}

// RecordSuccess counts a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	notify := func() {}
	switch cb.state {
	case Closed:
		cb.failures = 0
	case HalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			notify = cb.transition(Closed)
		}
	}
	cb.mu.Unlock()
	notify()
}

// RecordFailure counts a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.lastFailure = cb.now()
	cb.failures++
	notify := func() {}
	switch cb.state {
	case Closed:
		if cb.failures >= cb.cfg.FailureThreshold {
			notify = cb.transition(Open)
		}
	case HalfOpen:
		notify = cb.transition(Open)
	}
	cb.mu.Unlock()
	notify()
}

// transition must be called with mu held. It returns the hook to run once
// the lock is released.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	cb.state = to
	switch to {
	case Closed:
		cb.failures = 0
		cb.successes = 0
	case HalfOpen:
		cb.successes = 0
	}
	failures := cb.failures
	hook := cb.onChange
	return func() {
		cb.log.Info("circuit breaker state change", "from", from.String(), "to", to.String(), "failures", failures)
		if hook != nil {
			hook(from, to)
		}
	}
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the failure and half-open success counters.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.successes
}

// RetryAfter returns how long an open breaker keeps rejecting calls, or 0.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != Open {
		return 0
	}
	return max(0, cb.cfg.RecoveryTimeout-cb.now().Sub(cb.lastFailure))
}

// Wait blocks until the breaker admits a call or ctx is done.
func (cb *CircuitBreaker) Wait(ctx context.Context) error {
	for !cb.CanExecute() {
		t := time.NewTimer(max(cb.RetryAfter(), time.Millisecond))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Execute runs fn if the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.CanExecute() {
		return fmt.Errorf("%w: retry after %s", ErrOpen, cb.RetryAfter())
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
