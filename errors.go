package dispatch

import (
	"errors"
	"fmt"

	"github.com/parallelrun/dispatch/circuitbreaker"
	"github.com/parallelrun/dispatch/internal/engine"
	"github.com/parallelrun/dispatch/ratelimit"
)

// ErrInvalidArgument is returned synchronously, before any dispatch begins,
// when the source, op, or options are structurally invalid.
var ErrInvalidArgument = errors.New("dispatch: invalid argument")

// ErrCircuitOpen is returned when a circuit breaker rejects an admission.
// A rejection ends the item's attempts at once: it is not retried, and
// IsRetryable is not consulted for it. This is the very value circuitbreaker.Breaker.Allow returns, so errors.Is matches
// a Result.Err produced by either package directly, with no extra wrapping.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// ErrThrottled is returned when a rate-limit wait exceeds MaxWaitPerAcquire.
// It ends the item's attempts at once: it is not retried, and IsRetryable is
// not consulted for it.
var ErrThrottled = ratelimit.ErrMaxWaitExceeded

// ErrTimeout is returned when an item's PerItemTimeout expires before op
// returns. It is classified as transient by default: with IsRetryable unset
// it is retried (unlike other errors); a non-nil IsRetryable decides for it
// as for any other error.
var ErrTimeout = engine.ErrTimeout

// ErrCancelled is surfaced when the caller's context is cancelled (or the
// invocation cancels itself in FailFast mode). It is never retried.
var ErrCancelled = engine.ErrCancelled

// ItemError wraps a single item's terminal failure with its source index.
// It implements Unwrap so errors.Is/errors.As reach the underlying cause.
type ItemError struct {
	Index   uint64
	Attempt int
	Err     error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("dispatch: item %d failed after %d attempt(s): %v", e.Index, e.Attempt, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// AggregateError collects one ItemError per failed item for CollectAndContinue
// mode. It satisfies the error interface and exposes the full slice for
// callers that want per-item detail.
type AggregateError struct {
	Errors []*ItemError
}

func (a *AggregateError) Error() string {
	if len(a.Errors) == 1 {
		return a.Errors[0].Error()
	}
	return fmt.Sprintf("dispatch: %d item(s) failed (first: %v)", len(a.Errors), a.Errors[0])
}

// Unwrap exposes the individual item errors to errors.Is / errors.As via the
// multi-error convention supported by the standard errors package.
func (a *AggregateError) Unwrap() []error {
	errs := make([]error, len(a.Errors))
	for i, e := range a.Errors {
		errs[i] = e
	}
	return errs
}

func newInvalidArgument(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}
