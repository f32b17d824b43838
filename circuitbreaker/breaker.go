// Package circuitbreaker implements a three-state breaker: Closed -> Open
// -> HalfOpen -> Closed, gating calls by the recent failure count observed
// in a sliding window. Pulled out as its own shareable component, with an
// onStateChange hook an embedded breaker state machine usually lacks.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State is one of Closed, Open, HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrOpen is returned by Allow when the breaker is rejecting admissions.
var ErrOpen = errors.New("circuitbreaker: open")

// Options configures a Breaker.
type Options struct {
	FailureThreshold  int           // failures in the sampling window before opening
	SuccessThreshold  int           // consecutive half-open successes needed to close
	OpenTimeout       time.Duration // how long Open rejects before probing again
	SamplingDuration  time.Duration // width of the sliding failure-count window
	OnStateChange     func(old, new State)
}

type outcomeAt struct {
	at      time.Time
	success bool
}

// Breaker is safe for concurrent use and may be shared across invocations
// or scoped to a single one, caller's choice.
type Breaker struct {
	opts Options
	now  func() time.Time

	mu               sync.Mutex
	state            State
	window           []outcomeAt
	halfOpenSuccess  int
	halfOpenProbing  bool
	openedAt         time.Time
}

// New constructs a Breaker. Zero FailureThreshold disables tripping (the
// breaker stays Closed forever).
func New(opts Options) *Breaker {
	if opts.SamplingDuration <= 0 {
		opts.SamplingDuration = 10 * time.Second
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = 1
	}
	return &Breaker{opts: opts, now: time.Now, state: Closed}
}

// WithClock overrides the time source for deterministic tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	if now != nil {
		b.now = now
	}
	return b
}

// Allow reports whether a call may proceed. It performs the Open->HalfOpen
// timeout transition as a side effect: once OpenTimeout elapses since
// tripping, the next Allow call admits one probe and moves to HalfOpen.
// While HalfOpen, only one trial call is admitted at a time: further Allow
// calls reject with ErrOpen until Record reports the outcome of the
// in-flight probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if b.state == Open {
		if now.Sub(b.openedAt) >= b.opts.OpenTimeout {
			b.transitionLocked(HalfOpen)
			b.halfOpenProbing = true
			return nil
		}
		return ErrOpen
	}
	if b.state == HalfOpen {
		if b.halfOpenProbing {
			return ErrOpen
		}
		b.halfOpenProbing = true
	}
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Record reports the outcome of a call that Allow previously admitted.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	switch b.state {
	case HalfOpen:
		b.halfOpenProbing = false
		if success {
			b.halfOpenSuccess++
			if b.halfOpenSuccess >= b.opts.SuccessThreshold {
				b.transitionLocked(Closed)
			}
		} else {
			b.transitionLocked(Open)
		}
		return
	case Open:
		// Outcomes arriving after the breaker re-opened are stale; ignore.
		return
	}

	if b.opts.FailureThreshold <= 0 {
		return
	}
	b.window = append(b.window, outcomeAt{at: now, success: success})
	b.pruneLocked(now)

	failures := 0
	for _, o := range b.window {
		if !o.success {
			failures++
		}
	}
	if failures >= b.opts.FailureThreshold && len(b.window) >= b.opts.FailureThreshold {
		b.transitionLocked(Open)
	}
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.opts.SamplingDuration)
	i := 0
	for ; i < len(b.window); i++ {
		if b.window[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.window = append([]outcomeAt(nil), b.window[i:]...)
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case Open:
		b.openedAt = b.now()
		b.window = nil
		b.halfOpenProbing = false
	case HalfOpen:
		b.halfOpenSuccess = 0
		b.halfOpenProbing = false
	case Closed:
		b.window = nil
		b.halfOpenSuccess = 0
		b.halfOpenProbing = false
	}
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
}
