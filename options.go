package dispatch

import (
	"time"

	"github.com/parallelrun/dispatch/adaptive"
	"github.com/parallelrun/dispatch/circuitbreaker"
	"github.com/parallelrun/dispatch/internal/engine"
	"github.com/parallelrun/dispatch/ratelimit"
	"github.com/parallelrun/dispatch/retry"
	"github.com/parallelrun/dispatch/telemetry"
	"github.com/parallelrun/dispatch/telemetry/events"
)

// ErrorMode selects how a failing item affects the rest of an invocation.
type ErrorMode = engine.ErrorMode

const (
	// FailFast cancels the invocation on the first item failure; items not
	// yet started are reported OutcomeSkipped.
	FailFast = engine.FailFast
	// CollectAndContinue runs every item to completion; MapParallel/
	// ForEachParallel return an *AggregateError naming every failure.
	CollectAndContinue = engine.CollectAndContinue
	// BestEffort runs every item to completion but never synthesizes a
	// top-level error; MapParallel and MapParallelStream drop failed items
	// from their output.
	BestEffort = engine.BestEffort
)

// RetryStrategy selects how the delay between attempts grows.
type RetryStrategy = retry.Strategy

const (
	RetryFixed             = retry.Fixed
	RetryLinear            = retry.Linear
	RetryExponential       = retry.Exponential
	RetryExponentialJitter = retry.ExponentialJitter
)

// RetryOptions configures the per-item retry loop. MaxAttempts<=1 disables
// retrying: op runs exactly once.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Strategy    RetryStrategy
	// IsRetryable decides whether a given error should be retried. Nil means
	// not retryable by default, except ErrTimeout (a PerItemTimeout expiry),
	// which is always transient regardless of IsRetryable being unset.
	IsRetryable func(error) bool
}

// Options configures a dispatch invocation. Use Option functions with
// NewOptions to build one; NewOptions starts from concurrency 1, one
// attempt, a 100ms retry base delay, no rate limit, unordered output and
// CollectAndContinue error handling. The zero value also runs, but its
// ErrorMode is FailFast and its Retry.BaseDelay is zero.
type Options[R any] struct {
	Concurrency int
	Adaptive    *adaptive.Controller
	RateLimiter *ratelimit.Limiter
	Breaker     *circuitbreaker.Breaker
	Retry       RetryOptions
	ErrorMode   ErrorMode
	Ordered     bool
	// PerItemTimeout bounds each individual attempt, not the whole retry
	// loop; its expiry is a retriable Timeout, never a Cancellation. Zero
	// means no per-attempt bound beyond ctx itself.
	PerItemTimeout time.Duration
	// InputQueueCapacity bounds how many source items may be buffered ahead
	// of a free worker. <=0 defaults to Concurrency*2.
	InputQueueCapacity int
	Sink               *telemetry.Sink
	Bus                events.Bus
	ProgressInterval   time.Duration

	OnStartItem    func(index uint64)
	OnCompleteItem func(index uint64, outcome Outcome)
	OnRetry        func(index uint64, attempt int, err error, delay time.Duration)
	OnError        func(index uint64, err error)
	OnThrottle     func()
	OnDrain        func()
	OnFallback     func(index uint64, err error) (R, bool)
	OnProgress     func(telemetry.Progress)
}

// Option mutates an Options[R] under construction.
type Option[R any] func(*Options[R])

// NewOptions builds an Options[R] from zero or more Option values, applied
// in order, against the default configuration.
func NewOptions[R any](opts ...Option[R]) Options[R] {
	o := Options[R]{Concurrency: 1, ErrorMode: CollectAndContinue, Retry: RetryOptions{MaxAttempts: 1}}
	for _, apply := range opts {
		apply(&o)
	}
	return o.normalize()
}

func (o Options[R]) normalize() Options[R] {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = 1
	}
	if o.Retry.BaseDelay <= 0 {
		o.Retry.BaseDelay = 100 * time.Millisecond
	}
	if o.InputQueueCapacity <= 0 {
		o.InputQueueCapacity = o.Concurrency * 2
	}
	return o
}

// WithConcurrency bounds the number of items processed simultaneously.
// When WithAdaptive is also set, the controller's limit bounds in-flight
// items instead, within a semaphore sized from this value and that limit.
func WithConcurrency[R any](n int) Option[R] {
	return func(o *Options[R]) { o.Concurrency = n }
}

// WithAdaptive attaches an adaptive concurrency controller; its Limit()
// bounds in-flight items, capped by a semaphore sized at start from
// Concurrency and the controller's limit.
func WithAdaptive[R any](c *adaptive.Controller) Option[R] {
	return func(o *Options[R]) { o.Adaptive = c }
}

// WithRateLimiter attaches a (possibly shared) token-bucket limiter.
func WithRateLimiter[R any](l *ratelimit.Limiter) Option[R] {
	return func(o *Options[R]) { o.RateLimiter = l }
}

// WithCircuitBreaker attaches a (possibly shared) circuit breaker.
func WithCircuitBreaker[R any](b *circuitbreaker.Breaker) Option[R] {
	return func(o *Options[R]) { o.Breaker = b }
}

// WithRetry configures the retry loop.
func WithRetry[R any](r RetryOptions) Option[R] {
	return func(o *Options[R]) { o.Retry = r }
}

// WithErrorMode selects FailFast, CollectAndContinue, or BestEffort.
func WithErrorMode[R any](m ErrorMode) Option[R] {
	return func(o *Options[R]) { o.ErrorMode = m }
}

// WithOrdered requests output in source order (MapParallelStream only; the
// collected operations are always order-preserving by index already).
func WithOrdered[R any](ordered bool) Option[R] {
	return func(o *Options[R]) { o.Ordered = ordered }
}

// WithPerItemTimeout bounds each attempt of each item. Expiry surfaces as
// ErrTimeout and is retried like any other transient error; it never ends
// the invocation the way caller cancellation does.
func WithPerItemTimeout[R any](d time.Duration) Option[R] {
	return func(o *Options[R]) { o.PerItemTimeout = d }
}

// WithInputQueueCapacity bounds how many source items may be pulled ahead of
// a free worker before the input pump blocks (backpressure).
func WithInputQueueCapacity[R any](n int) Option[R] {
	return func(o *Options[R]) { o.InputQueueCapacity = n }
}

// WithTelemetrySink attaches a process-wide counters sink.
func WithTelemetrySink[R any](s *telemetry.Sink) Option[R] {
	return func(o *Options[R]) { o.Sink = s }
}

// WithEventBus attaches a structured event bus for lifecycle notifications.
func WithEventBus[R any](b events.Bus) Option[R] {
	return func(o *Options[R]) { o.Bus = b }
}

// WithProgress registers a progress callback sampled every interval (and
// once more after the invocation finishes).
func WithProgress[R any](interval time.Duration, fn func(telemetry.Progress)) Option[R] {
	return func(o *Options[R]) { o.ProgressInterval = interval; o.OnProgress = fn }
}

// WithFallback registers a function that may convert a failed item into a
// successful one instead of surfacing its error.
func WithFallback[R any](fn func(index uint64, err error) (R, bool)) Option[R] {
	return func(o *Options[R]) { o.OnFallback = fn }
}

// WithHooks registers the remaining per-item lifecycle callbacks.
func WithHooks[R any](onStart func(uint64), onComplete func(uint64, Outcome), onRetry func(uint64, int, error, time.Duration), onError func(uint64, error), onThrottle func(), onDrain func()) Option[R] {
	return func(o *Options[R]) {
		o.OnStartItem = onStart
		o.OnCompleteItem = onComplete
		o.OnRetry = onRetry
		o.OnError = onError
		o.OnThrottle = onThrottle
		o.OnDrain = onDrain
	}
}

func (o Options[R]) toEngineConfig() engine.Config {
	return engine.Config{
		Concurrency:        o.Concurrency,
		Adaptive:           o.Adaptive,
		RateLimiter:        o.RateLimiter,
		Breaker:            o.Breaker,
		RetryMaxAttempts:   o.Retry.MaxAttempts,
		RetryBaseDelay:     o.Retry.BaseDelay,
		RetryMaxDelay:      o.Retry.MaxDelay,
		RetryStrategy:      o.Retry.Strategy,
		IsRetryable:        o.Retry.IsRetryable,
		ErrorMode:          o.ErrorMode,
		Ordered:            o.Ordered,
		PerItemTimeout:     o.PerItemTimeout,
		InputQueueCapacity: o.InputQueueCapacity,
		Sink:               o.Sink,
		Bus:                o.Bus,
	}
}

func (o Options[R]) toEngineHooks() engine.Hooks[R] {
	return engine.Hooks[R]{
		OnStartItem:    o.OnStartItem,
		OnCompleteItem: func(index uint64, oc engine.Outcome) {
			if o.OnCompleteItem != nil {
				o.OnCompleteItem(index, Outcome(oc))
			}
		},
		OnRetry:    o.OnRetry,
		OnError:    o.OnError,
		OnThrottle: o.OnThrottle,
		OnDrain:    o.OnDrain,
		OnFallback: o.OnFallback,
	}
}
