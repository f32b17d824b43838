package dispatch

import (
	"time"

	"github.com/parallelrun/dispatch/internal/engine"
	"github.com/parallelrun/dispatch/telemetry"
)

// progressTracker bridges engine.Hooks' OnCompleteItem callback into a
// telemetry.Tracker, so every public operation gets progress reporting for
// free whenever the caller supplies WithProgress.
type progressTracker struct {
	t *telemetry.Tracker
}

func newProgressTracker(total uint64, interval time.Duration, onProgress func(telemetry.Progress)) *progressTracker {
	return &progressTracker{t: telemetry.NewTracker(total, interval, onProgress)}
}

func (p *progressTracker) stop() { p.t.Stop() }

// wrapHooksWithProgress layers a progress-tracking OnCompleteItem around an
// existing Hooks[R] without losing the caller's own callback. A standalone
// function rather than a method: Go methods cannot introduce new type
// parameters, and R here is independent of progressTracker's own state.
func wrapHooksWithProgress[R any](h engine.Hooks[R], p *progressTracker) engine.Hooks[R] {
	inner := h.OnCompleteItem
	h.OnCompleteItem = func(index uint64, oc engine.Outcome) {
		if inner != nil {
			inner(index, oc)
		}
		p.t.ItemDone(oc == engine.Failed)
	}
	return h
}
