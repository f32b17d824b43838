package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Progress is a point-in-time read of one invocation's completion state.
type Progress struct {
	Completed uint64
	Failed    uint64
	Total     uint64 // 0 when the source size is unknown (streaming input)
	Elapsed   time.Duration
	Rate      float64 // completed items per second since the tracker started
}

// Tracker samples one invocation's progress on a fixed interval and reports
// it through OnProgress, plus always one final sample after the invocation
// finishes. The final-sample guarantee matters to callers driving a
// progress bar: without it, a fast invocation could complete between two
// ticks and the caller would never see 100%.
type Tracker struct {
	total     uint64
	onProg    func(Progress)
	interval  time.Duration
	startedAt time.Time

	completed atomic.Uint64
	failed    atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewTracker starts a Tracker's sampler goroutine. total is 0 when the
// number of items is not known in advance. onProgress may be nil, in which
// case the tracker still accumulates counts but never calls back.
func NewTracker(total uint64, interval time.Duration, onProgress func(Progress)) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	t := &Tracker{
		total:     total,
		onProg:    onProgress,
		interval:  interval,
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	if onProgress != nil {
		go t.loop()
	} else {
		close(t.doneCh)
	}
	return t
}

func (t *Tracker) loop() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			t.emit()
			return
		case <-ticker.C:
			t.emit()
		}
	}
}

func (t *Tracker) emit() {
	elapsed := time.Since(t.startedAt)
	completed := t.completed.Load()
	rate := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(completed) / s
	}
	t.onProg(Progress{
		Completed: completed,
		Failed:    t.failed.Load(),
		Total:     t.total,
		Elapsed:   elapsed,
		Rate:      rate,
	})
}

// ItemDone records one terminal item outcome.
func (t *Tracker) ItemDone(failed bool) {
	t.completed.Add(1)
	if failed {
		t.failed.Add(1)
	}
}

// Snapshot reads the current counts without waiting for the next tick.
func (t *Tracker) Snapshot() Progress {
	elapsed := time.Since(t.startedAt)
	completed := t.completed.Load()
	rate := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(completed) / s
	}
	return Progress{Completed: completed, Failed: t.failed.Load(), Total: t.total, Elapsed: elapsed, Rate: rate}
}

// Stop halts the sampler goroutine after emitting one final sample.
// Idempotent; safe to call even when onProgress was nil.
func (t *Tracker) Stop() {
	t.once.Do(func() { close(t.stopCh) })
	<-t.doneCh
}
