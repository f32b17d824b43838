// Package engine is the concurrency core shared by every public dispatch
// operation and by the pipeline composer: a bounded worker pool pulling
// from an indexed input channel, each item run through retry/rate-limit/
// circuit-breaker admission, with optional order restoration on output. The
// wg-per-stage-plus-closer-goroutine shutdown shape and the ctx-cancel-
// drives-FailFast behavior collapse a four-fixed-stage worker-pool pipeline
// (discovery/extraction/processing/output) into one generic worker stage,
// since dispatch has no notion of those fixed roles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parallelrun/dispatch/adaptive"
	"github.com/parallelrun/dispatch/circuitbreaker"
	"github.com/parallelrun/dispatch/internal/orderbuffer"
	"github.com/parallelrun/dispatch/ratelimit"
	"github.com/parallelrun/dispatch/retry"
	"github.com/parallelrun/dispatch/telemetry"
	"github.com/parallelrun/dispatch/telemetry/events"
)

// ErrCancelled wraps the caller's ctx.Err() when cancellation (not a
// PerItemTimeout) ends an item's attempt. The root dispatch package
// re-exports this value directly so errors.Is(result.Err, dispatch.ErrCancelled)
// works without a second wrapping layer.
var ErrCancelled = errors.New("engine: cancelled")

// ErrTimeout wraps an item's per-attempt context once PerItemTimeout expires.
// Classified as transient by default: the retry loop applies the normal
// IsRetryable check to it like any other error.
var ErrTimeout = errors.New("engine: per-item timeout")

// Outcome mirrors dispatch.Outcome; kept distinct so this package never
// imports the root package (which imports this one).
type Outcome int

const (
	Success Outcome = iota
	Failed
	Skipped
)

// Item is one source element's terminal state, as handed back to the root
// package for conversion into dispatch.Result[R].
type Item[R any] struct {
	Index    uint64
	Outcome  Outcome
	Value    R
	Err      error
	Attempts int
}

// Indexed pairs a source value with its position, assigned by the caller
// (api.go) as it pulls from the user's slice or iterator.
type Indexed[T any] struct {
	Index uint64
	Value T
}

// ErrorMode selects how a failing item affects the rest of the invocation.
type ErrorMode int

const (
	// FailFast cancels the invocation on the first item failure; items not
	// yet started are reported Skipped.
	FailFast ErrorMode = iota
	// CollectAndContinue runs every item to completion and reports every
	// failure; the caller aggregates them.
	CollectAndContinue
	// BestEffort runs every item to completion like CollectAndContinue, but
	// the caller never synthesizes a top-level aggregate error — per-item
	// Result.Err is the only failure signal.
	BestEffort
)

// Hooks are lifecycle callbacks invoked from worker goroutines. Any may be
// nil. OnFallback, when non-nil, lets a failed item still produce a value
// instead of a Failed outcome.
type Hooks[R any] struct {
	OnStartItem    func(index uint64)
	OnCompleteItem func(index uint64, outcome Outcome)
	OnRetry        func(index uint64, attempt int, err error, delay time.Duration)
	OnError        func(index uint64, err error)
	OnThrottle     func()
	OnDrain        func()
	OnFallback     func(index uint64, err error) (R, bool)
}

// Config bounds the engine's resilience behavior. When Adaptive is set, the
// controller's Limit() is polled to bound in-flight items; Concurrency then
// still sizes the semaphore (see maxPossible) and the output buffer.
type Config struct {
	Concurrency       int
	Adaptive          *adaptive.Controller
	RateLimiter       *ratelimit.Limiter
	Breaker           *circuitbreaker.Breaker
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RetryStrategy     retry.Strategy
	IsRetryable       func(error) bool
	ErrorMode         ErrorMode
	Ordered           bool
	// InputQueueCapacity bounds how many ordered results may sit ahead of
	// the reorder buffer's cursor before a worker's Push blocks. <=0 falls
	// back to Concurrency*2, mirroring the input queue's own default sizing.
	InputQueueCapacity int
	// PerItemTimeout, when positive, bounds each individual attempt (not the
	// whole retry loop) via its own derived context. Expiry is reported as
	// ErrTimeout and is retried exactly like any other transient error; it
	// never ends the invocation the way caller cancellation does.
	PerItemTimeout time.Duration
	Sink           *telemetry.Sink
	Bus            events.Bus
}

// Run drains source, applying op to every item under the bounds in cfg, and
// returns a channel of terminal Items. The returned channel is closed once
// every item (or its successor Skipped marker, under FailFast) has been
// emitted. Run itself never blocks; all work happens in spawned goroutines.
func Run[T, R any](ctx context.Context, source <-chan Indexed[T], op func(context.Context, T) (R, error), cfg Config, hooks Hooks[R]) <-chan Item[R] {
	runCtx, cancel := context.WithCancel(ctx)

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	raw := make(chan Item[R], concurrency)
	var wg sync.WaitGroup

	limit := func() int {
		if cfg.Adaptive != nil {
			return cfg.Adaptive.Limit()
		}
		return concurrency
	}

	sem := make(chan struct{}, maxPossible(concurrency, cfg.Adaptive))
	var failedOnce sync.Once

	go func() {
		defer cancel()
		for item := range source {
			// Respect the adaptive controller's current ceiling by only
			// admitting up to Limit() concurrent workers at any instant;
			// the semaphore is sized by maxPossible at start, so a limit
			// that later grows past that size is capped by the semaphore.
			for len(sem) >= limit() {
				select {
				case <-runCtx.Done():
					goto drained
				case <-time.After(time.Millisecond):
				}
			}
			select {
			case <-runCtx.Done():
				goto drained
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(it Indexed[T]) {
				defer wg.Done()
				defer func() { <-sem }()
				runItem(runCtx, it, op, cfg, hooks, raw, &failedOnce, cancel)
			}(item)
			continue
		drained:
			break
		}
		// Any items left unread from source (because we broke out early
		// under FailFast) must still be drained so the producer never
		// blocks forever, and reported Skipped.
		for item := range source {
			emitSkipped(item.Index, raw, hooks)
		}
		wg.Wait()
		if cfg.Sink != nil {
			cfg.Sink.Drained()
		}
		if hooks.OnDrain != nil {
			hooks.OnDrain()
		}
		close(raw)
	}()

	if !cfg.Ordered {
		return raw
	}
	watermark := cfg.InputQueueCapacity
	if watermark <= 0 {
		watermark = concurrency * 2
	}
	return reorder(raw, watermark)
}

func maxPossible(base int, a *adaptive.Controller) int {
	if a == nil {
		return base
	}
	if a.Limit() > base {
		return a.Limit() * 2
	}
	return base * 2
}

func runItem[T, R any](ctx context.Context, it Indexed[T], op func(context.Context, T) (R, error), cfg Config, hooks Hooks[R], out chan<- Item[R], failedOnce *sync.Once, cancel context.CancelFunc) {
	if hooks.OnStartItem != nil {
		hooks.OnStartItem(it.Index)
	}
	if cfg.Sink != nil {
		cfg.Sink.ItemStarted()
		cfg.Sink.WorkerStarted()
		defer cfg.Sink.WorkerStopped()
	}

	maxAttempts := cfg.RetryMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var value R
	attempt := 0

	for attempt = 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			lastErr = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			goto terminal
		default:
		}

		if cfg.Breaker != nil {
			if err := cfg.Breaker.Allow(); err != nil {
				lastErr = err
				break
			}
		}
		if cfg.RateLimiter != nil {
			if err := cfg.RateLimiter.Acquire(ctx, 1); err != nil {
				lastErr = err
				if cfg.Sink != nil {
					cfg.Sink.Throttled()
				}
				if hooks.OnThrottle != nil {
					hooks.OnThrottle()
				}
				break
			}
		}

		attemptCtx := ctx
		var attemptCancel context.CancelFunc
		if cfg.PerItemTimeout > 0 {
			attemptCtx, attemptCancel = context.WithTimeout(ctx, cfg.PerItemTimeout)
		}

		start := time.Now()
		v, err := op(attemptCtx, it.Value)
		latency := time.Since(start)

		if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			// The per-attempt scope expired, not the caller's own context:
			// this is a retriable Timeout, never a Cancellation.
			err = fmt.Errorf("%w: %v", ErrTimeout, attemptCtx.Err())
		}
		if attemptCancel != nil {
			attemptCancel()
		}

		if cfg.Breaker != nil {
			cfg.Breaker.Record(err == nil)
		}
		if cfg.Adaptive != nil {
			cfg.Adaptive.RecordResult(err == nil, latency)
		}

		if err == nil {
			value = v
			lastErr = nil
			break
		}
		lastErr = err

		if ctx.Err() != nil {
			// Caller cancellation always wins over IsRetryable: never retry it.
			lastErr = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			break
		}

		retryable := errors.Is(err, ErrTimeout)
		if cfg.IsRetryable != nil {
			retryable = cfg.IsRetryable(err)
		}
		if !retryable || attempt >= maxAttempts {
			break
		}
		delay := retry.Delay(attempt, cfg.RetryBaseDelay, cfg.RetryStrategy, cfg.RetryMaxDelay)
		if cfg.Sink != nil {
			cfg.Sink.Retried()
		}
		if hooks.OnRetry != nil {
			hooks.OnRetry(it.Index, attempt, err, delay)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				lastErr = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
				goto terminal
			case <-timer.C:
			}
		}
	}

terminal:
	result := Item[R]{Index: it.Index, Attempts: attempt}
	if lastErr == nil {
		result.Outcome = Success
		result.Value = value
	} else {
		if hooks.OnError != nil {
			hooks.OnError(it.Index, lastErr)
		}
		if hooks.OnFallback != nil {
			if fv, ok := hooks.OnFallback(it.Index, lastErr); ok {
				result.Outcome = Success
				result.Value = fv
				lastErr = nil
			}
		}
		if lastErr != nil {
			result.Outcome = Failed
			result.Err = lastErr
			if cfg.Sink != nil {
				cfg.Sink.ItemCompleted(true)
			}
			if cfg.ErrorMode == FailFast {
				failedOnce.Do(cancel)
			}
		}
	}
	if lastErr == nil && cfg.Sink != nil {
		cfg.Sink.ItemCompleted(false)
	}
	if hooks.OnCompleteItem != nil {
		hooks.OnCompleteItem(it.Index, result.Outcome)
	}
	select {
	case out <- result:
	case <-ctx.Done():
		select {
		case out <- result:
		default:
		}
	}
}

func emitSkipped[T, R any](index uint64, out chan<- Item[R], hooks Hooks[R]) {
	if hooks.OnCompleteItem != nil {
		hooks.OnCompleteItem(index, Skipped)
	}
	out <- Item[R]{Index: index, Outcome: Skipped}
}

func reorder[R any](in <-chan Item[R], watermark int) <-chan Item[R] {
	buf := orderbuffer.New[Item[R]](watermark)
	out := make(chan Item[R])
	go func() {
		for item := range in {
			buf.Push(item.Index, item)
		}
		buf.Close()
	}()
	go func() {
		defer close(out)
		for {
			v, ok := buf.Next()
			if !ok {
				return
			}
			out <- v
		}
	}()
	return out
}
