package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOTelProviderInstrumentsDoNotPanic(t *testing.T) {
	p := NewOTelProvider(OTelProviderOptions{CardinalityLimit: 2})

	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Namespace: "dispatch", Name: "items", Labels: []string{"kind"}}})
	c.Inc(1, "map")
	c.Inc(2, "map")

	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Namespace: "dispatch", Name: "active"}})
	g.Set(3)
	g.Set(5)
	g.Add(-2)

	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Namespace: "dispatch", Name: "latency"}})
	h.Observe(0.5)

	timer := p.NewTimer(HistogramOpts{CommonOpts: CommonOpts{Namespace: "dispatch", Name: "duration"}})
	timer().ObserveDuration()

	assert.NoError(t, p.Health(context.Background()))
}

func TestOTelProviderCardinalityWarning(t *testing.T) {
	p := NewOTelProvider(OTelProviderOptions{CardinalityLimit: 1})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "labeled", Labels: []string{"id"}}})
	c.Inc(1, "a")
	c.Inc(1, "b") // exceeds limit; must not panic
}

func TestBuildOTelNameJoinsWithDots(t *testing.T) {
	name := buildOTelName(CommonOpts{Namespace: "dispatch", Subsystem: "events", Name: "published_total"})
	assert.Equal(t, "dispatch.events.published_total", name)
}
