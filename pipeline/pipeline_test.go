package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformMapsEveryValue(t *testing.T) {
	ctx := context.Background()
	b := FromSlice(ctx, []int{1, 2, 3})
	b2 := Transform(b, StageOptions{Concurrency: 2}, func(_ context.Context, v int) (int, error) { return v * 2, nil })
	out, err := Collect(b2)
	require.NoError(t, err)
	sort.Ints(out)
	assert.Equal(t, []int{2, 4, 6}, out)
}

func TestFilterKeepsOnlyMatching(t *testing.T) {
	ctx := context.Background()
	b := FromSlice(ctx, []int{1, 2, 3, 4, 5, 6})
	b2 := Filter(b, StageOptions{Concurrency: 2}, func(_ context.Context, v int) (bool, error) { return v%2 == 0, nil })
	out, err := Collect(b2)
	require.NoError(t, err)
	sort.Ints(out)
	assert.Equal(t, []int{2, 4, 6}, out)
}

func TestSelectManyFlattens(t *testing.T) {
	ctx := context.Background()
	b := FromSlice(ctx, []int{1, 2})
	b2 := SelectMany(b, StageOptions{Concurrency: 1}, func(_ context.Context, v int) ([]int, error) {
		return []int{v, v * 10}, nil
	})
	out, err := Collect(b2)
	require.NoError(t, err)
	sort.Ints(out)
	assert.Equal(t, []int{1, 2, 10, 20}, out)
}

func TestBatchGroupsIntoFixedSizeSlices(t *testing.T) {
	ctx := context.Background()
	b := FromSlice(ctx, []int{1, 2, 3, 4, 5})
	b2 := Batch(b, 2)
	out, err := Collect(b2)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Len(t, out[2], 1)
}

func TestBatchSelectBatchesThenTransforms(t *testing.T) {
	ctx := context.Background()
	b := FromSlice(ctx, []int{1, 2, 3, 4})
	b2 := BatchSelect(b, 2, StageOptions{Concurrency: 1}, func(_ context.Context, batch []int) ([]int, error) {
		sum := 0
		for _, v := range batch {
			sum += v
		}
		return []int{sum}, nil
	})
	out, err := Collect(b2)
	require.NoError(t, err)
	sort.Ints(out)
	assert.Equal(t, []int{3, 7}, out)
}

func TestTapObservesWithoutMutating(t *testing.T) {
	ctx := context.Background()
	var seen []int
	b := FromSlice(ctx, []int{1, 2, 3})
	b2 := Tap(b, func(v int) { seen = append(seen, v) })
	out, err := Collect(b2)
	require.NoError(t, err)
	sort.Ints(out)
	sort.Ints(seen)
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestBufferPassesThroughValues(t *testing.T) {
	ctx := context.Background()
	b := FromSlice(ctx, []int{1, 2, 3})
	b2 := Buffer(b, 10)
	out, err := Collect(b2)
	require.NoError(t, err)
	sort.Ints(out)
	assert.Equal(t, []int{1, 2, 3}, out)
}

func TestCustomStageReceivesRawChannels(t *testing.T) {
	ctx := context.Background()
	b := FromSlice(ctx, []int{1, 2, 3})
	b2 := Custom(b, "sum", func(_ context.Context, in <-chan int, out chan<- int) {
		sum := 0
		for v := range in {
			sum += v
		}
		out <- sum
	})
	out, err := Collect(b2)
	require.NoError(t, err)
	assert.Equal(t, []int{6}, out)
}

func TestTransformRecordsFirstStageError(t *testing.T) {
	ctx := context.Background()
	b := FromSlice(ctx, []int{1, 2, 3})
	b2 := Transform(b, StageOptions{Concurrency: 1, RetryMaxAttempts: 1}, func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, errors.New("boom")
		}
		return v, nil
	})
	out, err := Collect(b2)
	require.Error(t, err)
	sort.Ints(out)
	assert.Equal(t, []int{1, 3}, out)
}

func TestTransformStagePerItemTimeoutRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	b := FromSlice(ctx, []int{1})
	b2 := Transform(b, StageOptions{Concurrency: 1, RetryMaxAttempts: 2, PerItemTimeout: 10 * time.Millisecond}, func(opCtx context.Context, v int) (int, error) {
		if calls.Add(1) == 1 {
			<-opCtx.Done()
			return 0, opCtx.Err()
		}
		return v, nil
	})
	out, err := Collect(b2)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, out)
}

func TestHooksFireOnPipelineStartOnceAcrossStages(t *testing.T) {
	ctx := context.Background()
	var starts atomic.Int32
	b := WithHooks(FromSlice(ctx, []int{1, 2, 3}), Hooks{
		OnPipelineStart: func(context.Context) { starts.Add(1) },
	})
	b2 := Transform(b, StageOptions{Concurrency: 1}, func(_ context.Context, v int) (int, error) { return v, nil })
	b3 := Filter(b2, StageOptions{Concurrency: 1}, func(_ context.Context, v int) (bool, error) { return true, nil })
	_, err := Collect(b3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), starts.Load())
}

func TestHooksReportEachStageNameInOrder(t *testing.T) {
	ctx := context.Background()
	var names []string
	b := WithHooks(FromSlice(ctx, []int{1, 2, 3}), Hooks{
		OnStageStart: func(name string, _ context.Context) { names = append(names, name) },
	})
	b2 := Transform(b, StageOptions{Concurrency: 1, Name: "double"}, func(_ context.Context, v int) (int, error) { return v * 2, nil })
	b3 := Tap(b2, func(int) {})
	_, err := Collect(b3)
	require.NoError(t, err)
	assert.Equal(t, []string{"double", "tap"}, names)
}

func TestHooksCollectFiresOnPipelineCompleteOnceWithResult(t *testing.T) {
	ctx := context.Background()
	var completions atomic.Int32
	var gotErr error
	b := WithHooks(FromSlice(ctx, []int{1, 2, 3}), Hooks{
		OnPipelineComplete: func(_ context.Context, result any, err error) {
			completions.Add(1)
			gotErr = err
			if out, ok := result.([]int); ok {
				sort.Ints(out)
				assert.Equal(t, []int{1, 2, 3}, out)
			}
		},
	})
	out, err := Collect(b)
	require.NoError(t, err)
	sort.Ints(out)
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.Equal(t, int32(1), completions.Load())
	assert.NoError(t, gotErr)
}

func TestHooksStreamFiresOnPipelineCompleteOnceAfterDrain(t *testing.T) {
	ctx := context.Background()
	var completions atomic.Int32
	b := WithHooks(FromSlice(ctx, []int{1, 2, 3}), Hooks{
		OnPipelineComplete: func(context.Context, any, error) { completions.Add(1) },
	})
	ch, errFn := Stream(b)
	count := 0
	for range ch {
		count++
	}
	assert.Equal(t, 3, count)
	assert.NoError(t, errFn())
	assert.Equal(t, int32(1), completions.Load())
}
