// Package dispatch provides a generic bounded-concurrency engine for
// running one operation over many inputs: ordered or unordered output,
// retries with backoff, rate limiting, circuit breaking, adaptive
// concurrency, and progress/metrics reporting. Sub-packages (ratelimit,
// circuitbreaker, adaptive, retry, telemetry, pipeline) may be used
// standalone; this package wires them together behind five operations.
package dispatch

import (
	"context"
	"errors"

	"github.com/parallelrun/dispatch/internal/engine"
)

// MapParallel runs op over every element of src and returns one Result per
// element, indexed to match src's order, regardless of completion order.
// Under BestEffort, failed items are silently dropped from the returned
// slice instead of appearing as OutcomeFailed entries, so the result's
// length is |src| minus the number of failures. It blocks until every item
// has reached a terminal state.
func MapParallel[T, R any](ctx context.Context, src []T, op func(context.Context, T) (R, error), opts Options[R]) ([]Result[R], error) {
	if src == nil {
		return nil, newInvalidArgument("source must not be nil")
	}
	if op == nil {
		return nil, newInvalidArgument("op must not be nil")
	}

	results := make([]Result[R], len(src))
	var agg AggregateError

	ch := dispatchSlice(ctx, src, op, opts.withOrdered(false))
	for r := range ch {
		results[r.Index] = r
		if r.Outcome == OutcomeFailed {
			agg.Errors = append(agg.Errors, &ItemError{Index: r.Index, Attempt: r.Attempts, Err: r.Err})
		}
	}

	if opts.ErrorMode == BestEffort && len(agg.Errors) > 0 {
		survivors := make([]Result[R], 0, len(results)-len(agg.Errors))
		for _, r := range results {
			if r.Outcome != OutcomeFailed {
				survivors = append(survivors, r)
			}
		}
		results = survivors
	}

	return results, aggregateOrNil(opts.ErrorMode, &agg)
}

// MapParallelStream is MapParallel's streaming counterpart: results are
// delivered on the returned channel as they complete (or, when
// opts.Ordered is set, in source order). Under BestEffort, failed items
// never reach the returned channel at all. The channel is closed once
// every item has reached a terminal state.
func MapParallelStream[T, R any](ctx context.Context, src []T, op func(context.Context, T) (R, error), opts Options[R]) (<-chan Result[R], error) {
	if src == nil {
		return nil, newInvalidArgument("source must not be nil")
	}
	if op == nil {
		return nil, newInvalidArgument("op must not be nil")
	}
	ch := dispatchSlice(ctx, src, op, opts)
	if opts.ErrorMode != BestEffort {
		return ch, nil
	}
	out := make(chan Result[R])
	go func() {
		defer close(out)
		for r := range ch {
			if r.Outcome == OutcomeFailed {
				continue
			}
			out <- r
		}
	}()
	return out, nil
}

// ForEachParallel runs op over every element of src purely for side
// effects. It returns an *AggregateError under CollectAndContinue, the
// first FailFast error wrapped, or nil under BestEffort.
func ForEachParallel[T any](ctx context.Context, src []T, op func(context.Context, T) error, opts Options[struct{}]) error {
	if src == nil {
		return newInvalidArgument("source must not be nil")
	}
	if op == nil {
		return newInvalidArgument("op must not be nil")
	}
	wrapped := func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, op(ctx, v)
	}
	_, err := MapParallel(ctx, src, wrapped, opts)
	return err
}

// FilterParallel runs pred over every element of src concurrently and
// returns the elements for which pred returned true, in source order.
func FilterParallel[T any](ctx context.Context, src []T, pred func(context.Context, T) (bool, error), opts Options[bool]) ([]T, error) {
	if src == nil {
		return nil, newInvalidArgument("source must not be nil")
	}
	if pred == nil {
		return nil, newInvalidArgument("pred must not be nil")
	}
	results, err := MapParallel(ctx, src, pred, opts)
	if err != nil && opts.ErrorMode == FailFast {
		return nil, err
	}
	out := make([]T, 0, len(src))
	for _, r := range results {
		// Index into src by r.Index, not by position: under BestEffort,
		// MapParallel compacts failed entries out of results, so position
		// and source index diverge.
		if r.Outcome == OutcomeSuccess && r.Value {
			out = append(out, src[r.Index])
		}
	}
	return out, err
}

// BatchSelectParallel partitions src into fixed-size batches, runs op over
// each batch concurrently, and flattens the per-batch result slices back
// into one slice in source order. The final batch may be shorter than
// batchSize.
func BatchSelectParallel[T, R any](ctx context.Context, src []T, batchSize int, op func(context.Context, []T) ([]R, error), opts Options[[]R]) ([]R, error) {
	if src == nil {
		return nil, newInvalidArgument("source must not be nil")
	}
	if op == nil {
		return nil, newInvalidArgument("op must not be nil")
	}
	if batchSize <= 0 {
		return nil, newInvalidArgument("batchSize must be positive")
	}

	batches := make([][]T, 0, (len(src)+batchSize-1)/batchSize)
	for i := 0; i < len(src); i += batchSize {
		end := i + batchSize
		if end > len(src) {
			end = len(src)
		}
		batches = append(batches, src[i:end])
	}

	batchResults, err := MapParallel(ctx, batches, op, opts)
	if err != nil && opts.ErrorMode == FailFast {
		return nil, err
	}

	out := make([]R, 0, len(src))
	for _, r := range batchResults {
		if r.Outcome == OutcomeSuccess {
			out = append(out, r.Value...)
		}
	}
	return out, err
}

func aggregateOrNil(mode ErrorMode, agg *AggregateError) error {
	if len(agg.Errors) == 0 {
		return nil
	}
	if mode == BestEffort {
		return nil
	}
	if mode == FailFast {
		// Items cut short by the cancellation carry ErrCancelled; the item
		// whose failure triggered FailFast does not.
		for _, e := range agg.Errors {
			if !errors.Is(e.Err, ErrCancelled) {
				return e
			}
		}
		return agg.Errors[0]
	}
	return agg
}

// dispatchSlice is the shared engine entry point for every slice-based
// operation: it feeds src into the engine with ascending indices and
// converts engine.Item[R] back to the public Result[R].
func dispatchSlice[T, R any](ctx context.Context, src []T, op func(context.Context, T) (R, error), opts Options[R]) <-chan Result[R] {
	qcap := opts.InputQueueCapacity
	if qcap <= 0 {
		qcap = opts.Concurrency * 2
	}
	source := make(chan engine.Indexed[T], qcap)
	go func() {
		defer close(source)
		// No ctx.Done case: engine.Run reads source to the end even after
		// cancellation and reports unread items Skipped, so every element
		// of src gets exactly one Result.
		for i, v := range src {
			source <- engine.Indexed[T]{Index: uint64(i), Value: v}
		}
	}()

	var tracker *progressTracker
	if opts.OnProgress != nil {
		tracker = newProgressTracker(uint64(len(src)), opts.ProgressInterval, opts.OnProgress)
	}

	cfg := opts.toEngineConfig()
	hooks := opts.toEngineHooks()
	if tracker != nil {
		hooks = wrapHooksWithProgress(hooks, tracker)
	}

	items := engine.Run(ctx, source, op, cfg, hooks)
	out := make(chan Result[R])
	go func() {
		defer close(out)
		if tracker != nil {
			defer tracker.stop()
		}
		for it := range items {
			out <- Result[R]{Index: it.Index, Outcome: Outcome(it.Outcome), Value: it.Value, Err: it.Err, Attempts: it.Attempts}
		}
	}()
	return out
}

func (o Options[R]) withOrdered(v bool) Options[R] {
	o.Ordered = v
	return o
}
