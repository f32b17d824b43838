package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallelrun/dispatch/circuitbreaker"
	"github.com/parallelrun/dispatch/ratelimit"
)

func TestItemErrorUnwrapsToCause(t *testing.T) {
	cause := errors.New("root cause")
	ie := &ItemError{Index: 3, Attempt: 2, Err: cause}
	assert.ErrorIs(t, ie, cause)
	assert.Contains(t, ie.Error(), "item 3")
	assert.Contains(t, ie.Error(), "2 attempt")
}

func TestAggregateErrorSingleMatchesItemErrorMessage(t *testing.T) {
	ie := &ItemError{Index: 1, Attempt: 1, Err: errors.New("bad")}
	agg := &AggregateError{Errors: []*ItemError{ie}}
	assert.Equal(t, ie.Error(), agg.Error())
}

func TestAggregateErrorMultipleSummarizes(t *testing.T) {
	agg := &AggregateError{Errors: []*ItemError{
		{Index: 0, Attempt: 1, Err: errors.New("a")},
		{Index: 1, Attempt: 1, Err: errors.New("b")},
	}}
	msg := agg.Error()
	assert.Contains(t, msg, "2 item(s) failed")
}

func TestAggregateErrorUnwrapReachesEachCause(t *testing.T) {
	first := errors.New("a")
	second := errors.New("b")
	agg := &AggregateError{Errors: []*ItemError{
		{Index: 0, Attempt: 1, Err: first},
		{Index: 1, Attempt: 1, Err: second},
	}}
	require.ErrorIs(t, agg, first)
	require.ErrorIs(t, agg, second)
}

func TestNewInvalidArgumentWrapsSentinel(t *testing.T) {
	err := newInvalidArgument("source is nil")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "source is nil")
}

func TestSentinelsAliasUnderlyingPackageErrors(t *testing.T) {
	// ErrCircuitOpen/ErrThrottled are the exact values the lower packages
	// return, not a second wrapping layer, so errors.Is(result.Err,
	// dispatch.ErrCircuitOpen) matches a Result produced by the engine
	// without any extra plumbing at this layer.
	assert.Equal(t, circuitbreaker.ErrOpen, ErrCircuitOpen)
	assert.Equal(t, ratelimit.ErrMaxWaitExceeded, ErrThrottled)
}
