// Package telemetry hosts the process-wide counters (Sink) and the
// per-invocation progress tracker used by dispatch. There is no separate
// per-invocation metrics tracker.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/parallelrun/dispatch/telemetry/metrics"
)

// Policy centralizes runtime-tunable telemetry knobs, normalized once at
// construction so hot paths never branch on zero-values.
type Policy struct {
	SampleInterval   time.Duration
	CardinalityLimit int
}

// Default returns the baseline Policy.
func Default() Policy {
	return Policy{SampleInterval: time.Second, CardinalityLimit: 100}
}

// Normalize returns a cleaned copy without mutating the receiver.
func (p Policy) Normalize() Policy {
	c := p
	if c.SampleInterval <= 0 {
		c.SampleInterval = time.Second
	}
	if c.CardinalityLimit <= 0 {
		c.CardinalityLimit = 100
	}
	return c
}

// Sink holds the process-wide dispatch counters. One Sink can back every
// invocation in a process; Provider may be nil for counters-only operation
// with no metrics backend.
type Sink struct {
	provider metrics.Provider

	itemsStarted   atomic.Uint64
	itemsCompleted atomic.Uint64
	itemsFailed    atomic.Uint64
	retryCount     atomic.Uint64
	throttleCount  atomic.Uint64
	drainCount     atomic.Uint64
	activeWorkers  atomic.Int64
	queueDepth     atomic.Int64

	mStarted   metrics.Counter
	mCompleted metrics.Counter
	mFailed    metrics.Counter
	mRetries   metrics.Counter
	mThrottles metrics.Counter
	mDrains    metrics.Counter
	mActive    metrics.Gauge
	mQueue     metrics.Gauge
}

// NewSink constructs a Sink. provider may be nil.
func NewSink(provider metrics.Provider) *Sink {
	s := &Sink{provider: provider}
	if provider == nil {
		return s
	}
	ns := func(name, help string) metrics.Counter {
		return provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "dispatch", Name: name, Help: help}})
	}
	ng := func(name, help string) metrics.Gauge {
		return provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{Namespace: "dispatch", Name: name, Help: help}})
	}
	s.mStarted = ns("items_started_total", "items admitted to a worker")
	s.mCompleted = ns("items_completed_total", "items that reached a terminal outcome")
	s.mFailed = ns("items_failed_total", "items that terminated failed")
	s.mRetries = ns("total_retries", "retry attempts issued")
	s.mThrottles = ns("throttle_events_total", "rate-limit throttle events")
	s.mDrains = ns("drain_events_total", "invocation drain completions")
	s.mActive = ng("active_workers", "workers currently running an item")
	s.mQueue = ng("queue_depth", "items buffered ahead of a free worker")
	return s
}

func (s *Sink) ItemStarted() {
	s.itemsStarted.Add(1)
	if s.mStarted != nil {
		s.mStarted.Inc(1)
	}
}
func (s *Sink) ItemCompleted(failed bool) {
	s.itemsCompleted.Add(1)
	if s.mCompleted != nil {
		s.mCompleted.Inc(1)
	}
	if failed {
		s.itemsFailed.Add(1)
		if s.mFailed != nil {
			s.mFailed.Inc(1)
		}
	}
}
func (s *Sink) Retried() {
	s.retryCount.Add(1)
	if s.mRetries != nil {
		s.mRetries.Inc(1)
	}
}
func (s *Sink) Throttled() {
	s.throttleCount.Add(1)
	if s.mThrottles != nil {
		s.mThrottles.Inc(1)
	}
}
func (s *Sink) Drained() {
	s.drainCount.Add(1)
	if s.mDrains != nil {
		s.mDrains.Inc(1)
	}
}
func (s *Sink) WorkerStarted() {
	v := s.activeWorkers.Add(1)
	if s.mActive != nil {
		s.mActive.Set(float64(v))
	}
}
func (s *Sink) WorkerStopped() {
	v := s.activeWorkers.Add(-1)
	if s.mActive != nil {
		s.mActive.Set(float64(v))
	}
}
func (s *Sink) QueueDepth(n int) {
	s.queueDepth.Store(int64(n))
	if s.mQueue != nil {
		s.mQueue.Set(float64(n))
	}
}

// Snapshot is a point-in-time read of every process-wide counter.
type Snapshot struct {
	ItemsStarted   uint64
	ItemsCompleted uint64
	ItemsFailed    uint64
	TotalRetries   uint64
	ThrottleEvents uint64
	DrainEvents    uint64
	ActiveWorkers  int64
	QueueDepth     int64
}

// Snapshot reads every counter without resetting them.
func (s *Sink) Snapshot() Snapshot {
	return Snapshot{
		ItemsStarted:   s.itemsStarted.Load(),
		ItemsCompleted: s.itemsCompleted.Load(),
		ItemsFailed:    s.itemsFailed.Load(),
		TotalRetries:   s.retryCount.Load(),
		ThrottleEvents: s.throttleCount.Load(),
		DrainEvents:    s.drainCount.Load(),
		ActiveWorkers:  s.activeWorkers.Load(),
		QueueDepth:     s.queueDepth.Load(),
	}
}

// Names returns the current counters keyed by their stable external names.
// The key set and hyphenation (items-started, items-completed,
// total-retries, total-failures, throttle-events, drain-events) are a fixed
// contract for anything reading the sink from outside the process, separate
// from whatever naming convention a metrics.Provider backend uses
// internally (Prometheus's underscore style, for one).
func (s *Sink) Names() map[string]uint64 {
	snap := s.Snapshot()
	return map[string]uint64{
		"items-started":   snap.ItemsStarted,
		"items-completed": snap.ItemsCompleted,
		"total-retries":   snap.TotalRetries,
		"total-failures":  snap.ItemsFailed,
		"throttle-events": snap.ThrottleEvents,
		"drain-events":    snap.DrainEvents,
	}
}

// Health reports the backing Provider's health, or nil if there is none.
func (s *Sink) Health(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	return s.provider.Health(ctx)
}
