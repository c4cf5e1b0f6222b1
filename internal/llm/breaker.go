// ABOUTME: Consecutive-failure circuit breaker guarding LLM calls
// ABOUTME: Opens after N failures, lets one probe through after the reset timeout

package llm

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the model while the breaker is open.
var ErrCircuitOpen = errors.New("llm circuit breaker open")

// Breaker states.
const (
	StateClosed = iota
	StateOpen
	StateHalfOpen
)

// Breaker trips after maxFailures consecutive errors.
type Breaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    int
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker. maxFailures <= 0 disables it.
func NewBreaker(maxFailures int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Call runs fn unless the breaker is open.
func (b *Breaker) Call(fn func() error) error {
	if b == nil || b.maxFailures <= 0 {
		return fn()
	}
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.failures = 0
		b.state = StateClosed
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
