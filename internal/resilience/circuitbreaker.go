// Package resilience provides circuit breaker and provider failover primitives
// for the remote STT, LLM and TTS calls made after an utterance is dispatched.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [FallbackGroup] puts one breaker in front of each of several backends of the
// same kind and tries them in order, skipping any whose breaker is open.
//
// Calls abandoned because their context was cancelled (an interrupt, or
// shutdown) are neither failures nor successes: they never trip a breaker and
// never fail over.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Cancelled reports whether err stems from a cancelled or expired context.
func Cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name identifies the guarded backend in logs and callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the probe budget and the number of successful
	// probes needed to close again. Default: 3.
	HalfOpenMax int

	// OnStateChange, when set, is called after every transition. It runs with
	// the breaker unlocked and must not block.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards one backend. It is safe for concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	onChange     func(name string, from, to State)
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeWins int
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		onChange:     cfg.OnStateChange,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker rejects the call with [ErrCircuitOpen].
// fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// acquire admits a call. probe reports whether it consumed a half-open slot.
func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	var from State
	changed := false
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		from, changed = cb.setLocked(StateHalfOpen)
		cb.probes, cb.probeWins = 0, 0
	}
	switch {
	case cb.state == StateOpen:
		err = ErrCircuitOpen
	case cb.state == StateHalfOpen && cb.probes >= cb.halfOpenMax:
		err = ErrCircuitOpen
	case cb.state == StateHalfOpen:
		cb.probes++
		probe = true
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateHalfOpen)
	}
	return probe, err
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	from, to := cb.state, cb.state
	switch {
	case Cancelled(err):
		// Tells nothing about the backend; hand the probe slot back.
		if probe && cb.state == StateHalfOpen {
			cb.probes--
		}
	case err != nil:
		cb.failures++
		if probe || cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			to = StateOpen
		}
	case probe && cb.state == StateHalfOpen:
		cb.probeWins++
		if cb.probeWins >= cb.halfOpenMax {
			to = StateClosed
			cb.failures = 0
		}
	default:
		cb.failures = 0
	}
	if to != from {
		cb.setLocked(to)
	}
	failures := cb.failures
	cb.mu.Unlock()

	if to != from {
		if to == StateOpen {
			slog.Warn("resilience: circuit breaker opened", "name", cb.name, "from", from, "consecutive_failures", failures)
		}
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) setLocked(s State) (from State, changed bool) {
	from = cb.state
	cb.state = s
	return from, from != s
}

func (cb *CircuitBreaker) notify(from, to State) {
	if to != StateOpen {
		slog.Info("resilience: circuit breaker state changed", "name", cb.name, "from", from, "to", to)
	}
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// Name is the label given in [CircuitBreakerConfig.Name].
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the breaker's state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, changed := cb.setLocked(StateClosed)
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	cb.mu.Unlock()
	if changed {
		cb.notify(from, StateClosed)
	}
}
