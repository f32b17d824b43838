package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapParallelPreservesSourceOrder(t *testing.T) {
	src := []int{1, 2, 3, 4, 5}
	op := func(_ context.Context, v int) (int, error) { return v * v, nil }
	results, err := MapParallel(context.Background(), src, op, NewOptions[int](WithConcurrency[int](3)))
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, uint64(i), r.Index)
		assert.Equal(t, OutcomeSuccess, r.Outcome)
		assert.Equal(t, src[i]*src[i], r.Value)
	}
}

func TestMapParallelCollectAndContinueAggregatesErrors(t *testing.T) {
	src := []int{1, 2, 3}
	op := func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, errors.New("bad")
		}
		return v, nil
	}
	results, err := MapParallel(context.Background(), src, op, NewOptions[int](WithErrorMode[int](CollectAndContinue)))
	require.Error(t, err)
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 1)
	assert.Equal(t, OutcomeFailed, results[1].Outcome)
	assert.Equal(t, OutcomeSuccess, results[0].Outcome)
}

func TestMapParallelBestEffortNeverAggregates(t *testing.T) {
	src := []int{1, 2}
	op := func(_ context.Context, v int) (int, error) { return 0, errors.New("bad") }
	_, err := MapParallel(context.Background(), src, op, NewOptions[int](WithErrorMode[int](BestEffort)))
	assert.NoError(t, err)
}

func TestMapParallelBestEffortDropsFailedItemsFromResults(t *testing.T) {
	src := make([]int, 10)
	for i := range src {
		src[i] = i + 1
	}
	op := func(_ context.Context, v int) (int, error) {
		if v == 5 {
			return 0, errors.New("bad")
		}
		return v * 2, nil
	}
	results, err := MapParallel(context.Background(), src, op, NewOptions[int](
		WithConcurrency[int](2),
		WithErrorMode[int](BestEffort),
	))
	require.NoError(t, err)
	require.Len(t, results, 9)
	got := make(map[int]bool)
	for _, r := range results {
		require.Equal(t, OutcomeSuccess, r.Outcome)
		got[r.Value] = true
	}
	for _, want := range []int{2, 4, 6, 8, 12, 14, 16, 18, 20} {
		assert.True(t, got[want], "expected %d in survivors", want)
	}
}

func TestMapParallelStreamBestEffortDropsFailedItems(t *testing.T) {
	src := []int{1, 2, 3, 4}
	op := func(_ context.Context, v int) (int, error) {
		if v%2 == 0 {
			return 0, errors.New("bad")
		}
		return v, nil
	}
	ch, err := MapParallelStream(context.Background(), src, op, NewOptions[int](WithErrorMode[int](BestEffort)))
	require.NoError(t, err)
	count := 0
	for r := range ch {
		assert.Equal(t, OutcomeSuccess, r.Outcome)
		count++
	}
	assert.Equal(t, 2, count)
}

func TestMapParallelRejectsNilSourceAndOp(t *testing.T) {
	_, err := MapParallel[int, int](context.Background(), nil, func(context.Context, int) (int, error) { return 0, nil }, NewOptions[int]())
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = MapParallel[int, int](context.Background(), []int{1}, nil, NewOptions[int]())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestForEachParallelRunsSideEffects(t *testing.T) {
	var total atomic.Int64
	src := []int{1, 2, 3, 4}
	err := ForEachParallel(context.Background(), src, func(_ context.Context, v int) error {
		total.Add(int64(v))
		return nil
	}, NewOptions[struct{}](WithConcurrency[struct{}](2)))
	require.NoError(t, err)
	assert.Equal(t, int64(10), total.Load())
}

func TestFilterParallelKeepsMatchingElementsInOrder(t *testing.T) {
	src := []int{1, 2, 3, 4, 5, 6}
	pred := func(_ context.Context, v int) (bool, error) { return v%2 == 0, nil }
	out, err := FilterParallel(context.Background(), src, pred, NewOptions[bool]())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, out)
}

func TestBatchSelectParallelFlattensInOrder(t *testing.T) {
	src := []int{1, 2, 3, 4, 5}
	op := func(_ context.Context, batch []int) ([]int, error) {
		out := make([]int, len(batch))
		for i, v := range batch {
			out[i] = v * 10
		}
		return out, nil
	}
	out, err := BatchSelectParallel(context.Background(), src, 2, op, NewOptions[[]int]())
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30, 40, 50}, out)
}

func TestBatchSelectParallelRejectsNonPositiveBatchSize(t *testing.T) {
	_, err := BatchSelectParallel(context.Background(), []int{1}, 0, func(context.Context, []int) ([]int, error) { return nil, nil }, NewOptions[[]int]())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMapParallelStreamDeliversEveryItem(t *testing.T) {
	src := []int{1, 2, 3}
	op := func(_ context.Context, v int) (int, error) { return v, nil }
	ch, err := MapParallelStream(context.Background(), src, op, NewOptions[int]())
	require.NoError(t, err)
	count := 0
	for range ch {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestMapParallelPerItemTimeoutRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	op := func(ctx context.Context, v int) (int, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return v, nil
	}
	opts := NewOptions[int](
		WithPerItemTimeout[int](10*time.Millisecond),
		WithRetry[int](RetryOptions{MaxAttempts: 2}),
	)
	results, err := MapParallel(context.Background(), []int{5}, op, opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, 5, results[0].Value)
}

func TestMapParallelPerItemTimeoutExhaustedSurfacesErrTimeout(t *testing.T) {
	op := func(ctx context.Context, v int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	opts := NewOptions[int](
		WithPerItemTimeout[int](5*time.Millisecond),
		WithErrorMode[int](CollectAndContinue),
	)
	results, err := MapParallel(context.Background(), []int{1}, op, opts)
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, ErrTimeout)
}

func TestMapParallelResultReportsAttemptCount(t *testing.T) {
	var calls atomic.Int32
	op := func(_ context.Context, v int) (int, error) {
		if calls.Add(1) < 3 {
			return 0, errors.New("transient")
		}
		return v, nil
	}
	opts := NewOptions[int](WithRetry[int](RetryOptions{
		MaxAttempts: 5,
		IsRetryable: func(error) bool { return true },
	}))
	results, err := MapParallel(context.Background(), []int{1}, op, opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestMapParallelFallbackConvertsFailureToSuccess(t *testing.T) {
	src := []int{1, 2}
	op := func(_ context.Context, v int) (int, error) { return 0, errors.New("boom") }
	opts := NewOptions[int](WithFallback(func(_ uint64, _ error) (int, bool) { return -1, true }))
	results, err := MapParallel(context.Background(), src, op, opts)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, OutcomeSuccess, r.Outcome)
		assert.Equal(t, -1, r.Value)
	}
}
