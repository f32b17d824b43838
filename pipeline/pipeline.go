// Package pipeline composes dispatch operations into multi-stage data flows:
// each stage runs concurrently and feeds the next over a channel, the way a
// worker-pool pipeline chains discovery -> extraction -> processing ->
// output stages. Here a pipeline is built from generic stage kinds
// (Transform, Filter, SelectMany, Batch, BatchSelect, Buffer, Throttle,
// Tap, Custom) instead of four fixed named stages. Transform, Filter,
// SelectMany and BatchSelect delegate to internal/engine so they get the same
// retry/rate-limit/breaker treatment as the root package's MapParallel
// family; Tap and Custom call their functions directly. WithHooks attaches pipeline-wide start/stage/complete callbacks
// for callers that want visibility into which stage is running without
// instrumenting every fn themselves.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parallelrun/dispatch/internal/engine"
	"github.com/parallelrun/dispatch/ratelimit"
	"github.com/parallelrun/dispatch/retry"
	"github.com/parallelrun/dispatch/telemetry"
	"github.com/parallelrun/dispatch/telemetry/events"
)

// Hooks are optional pipeline-wide lifecycle callbacks: start, per-stage
// start, and completion. Any may be nil.
type Hooks struct {
	OnPipelineStart    func(ctx context.Context)
	OnStageStart       func(stageName string, ctx context.Context)
	OnPipelineComplete func(ctx context.Context, result any, err error)
}

// StageOptions bounds one stage's concurrency and resilience, mirroring
// the root package's Options but scoped to a single stage instead of a
// whole invocation.
type StageOptions struct {
	// Name overrides the stage's default name (its kind, e.g. "transform")
	// in OnStageStart reports. Optional.
	Name             string
	Concurrency      int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryStrategy    retry.Strategy
	// IsRetryable decides whether a given error should be retried. Nil means
	// not retryable by default, except a PerItemTimeout expiry, which is
	// always transient regardless of IsRetryable being unset.
	IsRetryable    func(error) bool
	PerItemTimeout time.Duration
	Sink           *telemetry.Sink
	Bus            events.Bus
}

func (o StageOptions) toEngineConfig() engine.Config {
	return engine.Config{
		Concurrency:      o.Concurrency,
		RetryMaxAttempts: o.RetryMaxAttempts,
		RetryBaseDelay:   o.RetryBaseDelay,
		RetryMaxDelay:    o.RetryMaxDelay,
		RetryStrategy:    o.RetryStrategy,
		IsRetryable:      o.IsRetryable,
		PerItemTimeout:   o.PerItemTimeout,
		ErrorMode:        engine.CollectAndContinue,
		Sink:             o.Sink,
		Bus:              o.Bus,
	}
}

// Builder threads a typed stream of values through successive stages.
// Stage-adding functions are package-level (not methods) because Go methods
// cannot introduce new type parameters: Transform[T,U] needs both the
// builder's current element type and its next one.
type Builder[T any] struct {
	ctx   context.Context
	out   <-chan T
	err   *stageError
	state *pipelineState
}

type stageError struct {
	v atomic.Pointer[error]
}

func (e *stageError) store(err error) {
	if err != nil {
		e.v.CompareAndSwap(nil, &err)
	}
}
func (e *stageError) load() error {
	if p := e.v.Load(); p != nil {
		return *p
	}
	return nil
}

// pipelineState is shared by every Builder derived from the same root, so a
// pipeline with N stages fires OnPipelineStart exactly once regardless of
// which stage runs first.
type pipelineState struct {
	hooks     Hooks
	startOnce sync.Once
}

func (s *pipelineState) enterStage(ctx context.Context, name string) {
	if s == nil {
		return
	}
	s.startOnce.Do(func() {
		if s.hooks.OnPipelineStart != nil {
			s.hooks.OnPipelineStart(ctx)
		}
	})
	if s.hooks.OnStageStart != nil {
		s.hooks.OnStageStart(name, ctx)
	}
}

// New starts a pipeline from an already-produced channel of values, such as
// one fed by a generator goroutine the caller owns.
func New[T any](ctx context.Context, source <-chan T) *Builder[T] {
	return &Builder[T]{ctx: ctx, out: source, err: &stageError{}, state: &pipelineState{}}
}

// FromSlice starts a pipeline from a slice, preserving order into the first
// stage.
func FromSlice[T any](ctx context.Context, items []T) *Builder[T] {
	ch := make(chan T)
	go func() {
		defer close(ch)
		for _, v := range items {
			select {
			case ch <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return New(ctx, ch)
}

// WithHooks attaches pipeline-wide lifecycle callbacks. Call it on the root
// Builder before adding any stage; every Builder derived from it (by
// Transform, Filter, ...) shares the same hooks.
func WithHooks[T any](b *Builder[T], h Hooks) *Builder[T] {
	b.state.hooks = h
	return b
}

// Collect drains the pipeline into a slice. Order matches arrival order,
// not source order, unless every stage ran at Concurrency 1. Fires
// OnPipelineComplete once, with the final slice and error, if hooks were
// attached via WithHooks.
func Collect[T any](b *Builder[T]) ([]T, error) {
	out := make([]T, 0)
	for v := range b.out {
		out = append(out, v)
	}
	err := b.err.load()
	if b.state != nil && b.state.hooks.OnPipelineComplete != nil {
		b.state.hooks.OnPipelineComplete(b.ctx, out, err)
	}
	return out, err
}

// Stream exposes the pipeline's tail channel directly, for callers who want
// to consume results as they arrive. The returned error accessor becomes
// valid only once the channel is drained. When hooks are attached,
// OnPipelineComplete fires once the tail channel closes, with a nil result
// (the streaming variant has no single final value to report).
func Stream[T any](b *Builder[T]) (<-chan T, func() error) {
	if b.state == nil || b.state.hooks.OnPipelineComplete == nil {
		return b.out, b.err.load
	}
	out := make(chan T)
	go func() {
		defer close(out)
		for v := range b.out {
			out <- v
		}
		b.state.hooks.OnPipelineComplete(b.ctx, nil, b.err.load())
	}()
	return out, b.err.load
}

func indexify[T any](ctx context.Context, in <-chan T) <-chan engine.Indexed[T] {
	out := make(chan engine.Indexed[T])
	go func() {
		defer close(out)
		var i uint64
		for v := range in {
			select {
			case out <- engine.Indexed[T]{Index: i, Value: v}:
			case <-ctx.Done():
				return
			}
			i++
		}
	}()
	return out
}

// Transform runs fn over every value, producing a new stream of U. Failed
// items are dropped from the output stream and recorded as the pipeline's
// first error.
func Transform[T, U any](b *Builder[T], opts StageOptions, fn func(context.Context, T) (U, error)) *Builder[U] {
	b.state.enterStage(b.ctx, stageName(opts.Name, "transform"))
	items := engine.Run(b.ctx, indexify(b.ctx, b.out), fn, opts.toEngineConfig(), engine.Hooks[U]{
		OnError: func(_ uint64, err error) { b.err.store(err) },
	})
	out := make(chan U)
	go func() {
		defer close(out)
		for it := range items {
			if it.Outcome == engine.Success {
				out <- it.Value
			}
		}
	}()
	nb := &Builder[U]{ctx: b.ctx, out: out, err: b.err, state: b.state}
	return nb
}

// Filter keeps only the values for which pred returns true.
func Filter[T any](b *Builder[T], opts StageOptions, pred func(context.Context, T) (bool, error)) *Builder[T] {
	b.state.enterStage(b.ctx, stageName(opts.Name, "filter"))
	type kept struct {
		value T
		keep  bool
	}
	wrap := func(ctx context.Context, v T) (kept, error) {
		ok, err := pred(ctx, v)
		return kept{value: v, keep: ok}, err
	}
	items := engine.Run(b.ctx, indexify(b.ctx, b.out), wrap, opts.toEngineConfig(), engine.Hooks[kept]{
		OnError: func(_ uint64, err error) { b.err.store(err) },
	})
	out := make(chan T)
	go func() {
		defer close(out)
		for it := range items {
			if it.Outcome == engine.Success && it.Value.keep {
				out <- it.Value.value
			}
		}
	}()
	return &Builder[T]{ctx: b.ctx, out: out, err: b.err, state: b.state}
}

// SelectMany runs fn over every value and flattens each result slice into
// the output stream.
func SelectMany[T, U any](b *Builder[T], opts StageOptions, fn func(context.Context, T) ([]U, error)) *Builder[U] {
	b.state.enterStage(b.ctx, stageName(opts.Name, "select-many"))
	items := engine.Run(b.ctx, indexify(b.ctx, b.out), fn, opts.toEngineConfig(), engine.Hooks[[]U]{
		OnError: func(_ uint64, err error) { b.err.store(err) },
	})
	out := make(chan U)
	go func() {
		defer close(out)
		for it := range items {
			if it.Outcome != engine.Success {
				continue
			}
			for _, v := range it.Value {
				select {
				case out <- v:
				case <-b.ctx.Done():
					return
				}
			}
		}
	}()
	return &Builder[U]{ctx: b.ctx, out: out, err: b.err, state: b.state}
}

// Batch groups the stream into fixed-size slices. The final batch may be
// shorter than size.
func Batch[T any](b *Builder[T], size int) *Builder[[]T] {
	b.state.enterStage(b.ctx, "batch")
	if size <= 0 {
		size = 1
	}
	out := make(chan []T)
	go func() {
		defer close(out)
		buf := make([]T, 0, size)
		for v := range b.out {
			buf = append(buf, v)
			if len(buf) == size {
				out <- buf
				buf = make([]T, 0, size)
			}
		}
		if len(buf) > 0 {
			out <- buf
		}
	}()
	return &Builder[[]T]{ctx: b.ctx, out: out, err: b.err, state: b.state}
}

// BatchSelect batches the stream then runs fn over each batch, flattening
// the per-batch result slices back into a single stream.
func BatchSelect[T, U any](b *Builder[T], size int, opts StageOptions, fn func(context.Context, []T) ([]U, error)) *Builder[U] {
	return SelectMany(Batch(b, size), opts, fn)
}

// Buffer interposes a size-bounded channel, letting an upstream burst get
// ahead of a slower downstream stage instead of blocking on every send.
func Buffer[T any](b *Builder[T], size int) *Builder[T] {
	b.state.enterStage(b.ctx, "buffer")
	if size < 0 {
		size = 0
	}
	out := make(chan T, size)
	go func() {
		defer close(out)
		for v := range b.out {
			out <- v
		}
	}()
	return &Builder[T]{ctx: b.ctx, out: out, err: b.err, state: b.state}
}

// Throttle paces the stream through a shared rate limiter, one acquire per
// value, before passing it downstream.
func Throttle[T any](b *Builder[T], limiter *ratelimit.Limiter) *Builder[T] {
	b.state.enterStage(b.ctx, "throttle")
	out := make(chan T)
	go func() {
		defer close(out)
		for v := range b.out {
			if limiter != nil {
				if err := limiter.Acquire(b.ctx, 1); err != nil {
					b.err.store(err)
					continue
				}
			}
			select {
			case out <- v:
			case <-b.ctx.Done():
				return
			}
		}
	}()
	return &Builder[T]{ctx: b.ctx, out: out, err: b.err, state: b.state}
}

// Tap observes every value as it passes through without altering the
// stream, for side effects like logging or metrics.
func Tap[T any](b *Builder[T], fn func(T)) *Builder[T] {
	b.state.enterStage(b.ctx, "tap")
	out := make(chan T)
	go func() {
		defer close(out)
		for v := range b.out {
			fn(v)
			out <- v
		}
	}()
	return &Builder[T]{ctx: b.ctx, out: out, err: b.err, state: b.state}
}

// Custom hands the raw input and output channels to fn, for stage shapes
// the built-in kinds don't cover (stateful windowing, fan-in, and so on).
// Custom closes the output channel once fn returns, so fn must not close it.
func Custom[T, U any](b *Builder[T], name string, fn func(ctx context.Context, in <-chan T, out chan<- U)) *Builder[U] {
	b.state.enterStage(b.ctx, stageName(name, "custom"))
	out := make(chan U)
	go func() {
		defer close(out)
		fn(b.ctx, b.out, out)
	}()
	return &Builder[U]{ctx: b.ctx, out: out, err: b.err, state: b.state}
}

// stageName returns name if non-empty, else fallback.
func stageName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
