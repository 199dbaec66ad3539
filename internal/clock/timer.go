// Package clock turns a free-running, wrapping hardware counter into
// monotonic elapsed seconds. It has no dependencies on the OS clock except
// through the Counter it is given, so it can be driven by a fake in tests.
package clock

import (
	"fmt"
	"math"
)

// Conversion coefficients from raw counter ticks to seconds.
const (
	Milli = 0.001
	Micro = 0.000001
)

// Counter is a free-running hardware counter that wraps at 2^32.
type Counter interface {
	Now() uint32
}

// Timer tracks elapsed time since its creation from a wrapping Counter.
// Whole seconds are accumulated by integer addition and never wrap within
// the device lifetime.
type Timer struct {
	counter Counter
	lastRaw uint32
	dtRaw   uint32
	scale   float64
	precise float64 // fraction of the current second, always in [0, 1)
	whole   uint64
}

// NewTimer creates a Timer reading from c. The creation instant is second 0.
func NewTimer(c Counter, scale float64) *Timer {
	return &Timer{
		counter: c,
		lastRaw: c.Now(),
		scale:   scale,
	}
}

// Update samples the counter and advances the elapsed time. Unsigned
// subtraction yields the right delta when the counter has wrapped.
func (t *Timer) Update() {
	now := t.counter.Now()
	t.dtRaw = now - t.lastRaw
	t.lastRaw = now

	t.precise += float64(t.dtRaw) * t.scale
	for t.precise >= 1.0 {
		t.precise -= 1.0
		t.whole++
	}
}

// Sec returns the whole seconds elapsed since creation.
func (t *Timer) Sec() uint64 {
	return t.whole
}

// Raw returns the last observed counter value.
func (t *Timer) Raw() uint32 {
	return t.lastRaw
}

// DT returns the raw ticks elapsed between the last two updates.
func (t *Timer) DT() uint32 {
	return t.dtRaw
}

// Precise returns the fraction of the current second.
func (t *Timer) Precise() float64 {
	return t.precise
}

// Elapsed returns whole plus fractional seconds.
func (t *Timer) Elapsed() float64 {
	return float64(t.whole) + t.precise
}

// SetPrecise resets the sub-second phase, e.g. to line up with an external
// time source. Whole seconds are left untouched; v is clamped into [0, 1).
func (t *Timer) SetPrecise(v float64) {
	switch {
	case v < 0:
		v = 0
	case v >= 1:
		v -= math.Floor(v)
	}
	t.precise = v
}

func (t *Timer) String() string {
	return fmt.Sprintf("t=%ds+%.3f raw=%d dt=%d", t.whole, t.precise, t.lastRaw, t.dtRaw)
}
