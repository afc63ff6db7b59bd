// Package corridor implements the per-corridor boundary controls that sit
// between the orchestrator and bank adapters: circuit breakers, kill
// switches and dead-letter queues. A corridor is an ordered bank/currency
// pair; every control is scoped to one corridor id.
package corridor

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a corridor's breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a circuit breaker.
type BreakerState int32

const (
	// BreakerClosed passes requests through and counts failures.
	BreakerClosed BreakerState = iota

	// BreakerHalfOpen is probing whether the corridor recovered.
	BreakerHalfOpen

	// BreakerOpen fails fast without reaching the adapter.
	BreakerOpen
)

// String returns the breaker state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Breaker is a per-corridor circuit breaker. The breaker opens on the
// configured count of consecutive failures, waits out the recovery timeout,
// then half-opens and requires a run of successful probes to close.
type Breaker struct {
	corridorID       string
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenProbes   int

	mtx              sync.Mutex
	state            BreakerState
	failures         int
	halfOpenSuccess  int
	lastFailure      time.Time
	totalRequests    uint64
	totalFailures    uint64
	lastTransitionAt time.Time

	now func() time.Time
}

// NewBreaker creates a closed breaker for one corridor.
func NewBreaker(corridorID string, failureThreshold int, recoveryTimeout time.Duration, halfOpenProbes int) *Breaker {
	return &Breaker{
		corridorID:       corridorID,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenProbes:   halfOpenProbes,
		now:              time.Now,
	}
}

// Allow reports whether a request may proceed. An open breaker transitions
// to half-open once the recovery timeout has elapsed since the last failure.
func (b *Breaker) Allow() error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.totalRequests++
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
			b.transition(BreakerHalfOpen)
			return nil
		}
		return fmt.Errorf("%w: corridor %s", ErrCircuitOpen, b.corridorID)
	}
	return nil
}

// RecordSuccess notes a successful call, closing a half-open breaker after
// enough consecutive probes.
func (b *Breaker) RecordSuccess() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.halfOpenProbes {
			b.transition(BreakerClosed)
		}
	}
}

// RecordFailure notes a failed call. The breaker opens on the threshold-th
// consecutive failure in the closed state, and re-opens on any failure while
// half-open.
func (b *Breaker) RecordFailure() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.totalFailures++
	b.lastFailure = b.now()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	}
}

// Trip forces the breaker open regardless of counters; reconciliation uses
// this on critical discrepancies.
func (b *Breaker) Trip(reason string) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.lastFailure = b.now()
	if b.state != BreakerOpen {
		log.Warnf("Corridor %s breaker tripped: %s", b.corridorID, reason)
		b.transition(BreakerOpen)
	}
}

// Reset forces the breaker closed; manual operator action.
func (b *Breaker) Reset() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.state != BreakerClosed {
		log.Infof("Corridor %s breaker manually reset", b.corridorID)
		b.transition(BreakerClosed)
	}
	b.failures = 0
	b.halfOpenSuccess = 0
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.state
}

// transition flips state and resets the relevant counters. Callers hold the
// mutex.
func (b *Breaker) transition(next BreakerState) {
	if b.state == next {
		return
	}
	log.Infof("Corridor %s breaker %v -> %v", b.corridorID, b.state, next)
	b.state = next
	b.lastTransitionAt = b.now()
	switch next {
	case BreakerClosed:
		b.failures = 0
		b.halfOpenSuccess = 0
	case BreakerHalfOpen:
		b.halfOpenSuccess = 0
	case BreakerOpen:
		b.halfOpenSuccess = 0
	}
}

// BreakerSet owns one breaker per corridor, created on first use with the
// shared parameters.
type BreakerSet struct {
	mtx              sync.RWMutex
	breakers         map[string]*Breaker
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenProbes   int
}

// NewBreakerSet creates an empty breaker table.
func NewBreakerSet(failureThreshold int, recoveryTimeout time.Duration, halfOpenProbes int) *BreakerSet {
	return &BreakerSet{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenProbes:   halfOpenProbes,
	}
}

// Get returns the breaker for a corridor, creating it closed on first use.
func (s *BreakerSet) Get(corridorID string) *Breaker {
	s.mtx.RLock()
	b, ok := s.breakers[corridorID]
	s.mtx.RUnlock()
	if ok {
		return b
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if b, ok := s.breakers[corridorID]; ok {
		return b
	}
	b = NewBreaker(corridorID, s.failureThreshold, s.recoveryTimeout, s.halfOpenProbes)
	s.breakers[corridorID] = b
	return b
}
