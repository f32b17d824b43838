package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayFixed(t *testing.T) {
	d := Delay(1, 100*time.Millisecond, Fixed, time.Second)
	assert.Equal(t, 100*time.Millisecond, d)
	d = Delay(5, 100*time.Millisecond, Fixed, time.Second)
	assert.Equal(t, 100*time.Millisecond, d)
}

func TestDelayLinear(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Delay(1, 100*time.Millisecond, Linear, time.Second))
	assert.Equal(t, 300*time.Millisecond, Delay(3, 100*time.Millisecond, Linear, time.Second))
}

func TestDelayExponential(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Delay(1, 100*time.Millisecond, Exponential, time.Hour))
	assert.Equal(t, 200*time.Millisecond, Delay(2, 100*time.Millisecond, Exponential, time.Hour))
	assert.Equal(t, 400*time.Millisecond, Delay(3, 100*time.Millisecond, Exponential, time.Hour))
}

func TestDelayClampsToMax(t *testing.T) {
	d := Delay(20, 100*time.Millisecond, Exponential, 500*time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, d)
}

func TestDelayExponentialJitterBounded(t *testing.T) {
	Seed(42)
	for attempt := 1; attempt <= 6; attempt++ {
		base := Delay(attempt, 50*time.Millisecond, Exponential, time.Hour)
		jittered := Delay(attempt, 50*time.Millisecond, ExponentialJitter, time.Hour)
		assert.GreaterOrEqual(t, jittered, time.Duration(float64(base)*0.5))
		assert.Less(t, jittered, time.Duration(float64(base)*1.5)+time.Millisecond)
	}
}

func TestDelayNeverNegative(t *testing.T) {
	assert.GreaterOrEqual(t, Delay(0, -time.Second, Fixed, 0), time.Duration(0))
}

func TestDelayHighAttemptDoesNotOverflow(t *testing.T) {
	d := Delay(1000, time.Millisecond, Exponential, time.Minute)
	assert.Equal(t, time.Minute, d)
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "fixed", Fixed.String())
	assert.Equal(t, "linear", Linear.String())
	assert.Equal(t, "exponential", Exponential.String())
	assert.Equal(t, "exponential-jitter", ExponentialJitter.String())
}
