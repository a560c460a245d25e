// Package resilience provides reliability patterns for calls to the hosting
// platform and the coding agent.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the externally visible breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Breaker implements a circuit breaker for repeated calls such as watch-mode
// polling. It opens after maxFailures consecutive counted failures and stays
// open for timeout before letting a single probe through.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	now         func() time.Time // for testing

	// counts reports whether err should count towards opening the circuit.
	counts   func(error) bool
	onChange func(from, to State)
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// IgnoreErrors makes the breaker treat errors matching any target as
// successes. Use it for answers like "not found" that prove the remote is up.
func IgnoreErrors(targets ...error) BreakerOption {
	return func(b *Breaker) {
		b.counts = func(err error) bool {
			for _, t := range targets {
				if errors.Is(err, t) {
					return false
				}
			}
			return true
		}
	}
}

// OnStateChange registers a callback invoked with the lock released after
// every state transition.
func OnStateChange(fn func(from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(maxFailures int, timeout time.Duration, opts ...BreakerOption) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	b := &Breaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
		counts:      func(error) bool { return true },
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current state, promoting open to half-open when the
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn if the circuit is closed or half-open.
// Returns ErrCircuitOpen if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	_, err := Call(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Call runs fn through b and returns its value. A nil breaker runs fn directly.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	if !b.allowRequest() {
		var zero T
		return zero, ErrCircuitOpen
	}

	v, err := fn()
	b.record(err)
	return v, err
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	from := b.state
	allowed := true
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = StateHalfOpen
		} else {
			allowed = false
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	if err != nil && b.counts(err) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	} else {
		b.failures = 0
		b.state = StateClosed
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
