package clock

import "time"

// MonotonicCounter exposes the process monotonic clock as a 32-bit tick
// counter, the way millis() or micros() behave on a microcontroller.
type MonotonicCounter struct {
	start time.Time
	unit  time.Duration
}

// NewMonotonicCounter returns a counter ticking once per unit.
func NewMonotonicCounter(unit time.Duration) *MonotonicCounter {
	if unit <= 0 {
		unit = time.Millisecond
	}
	return &MonotonicCounter{start: time.Now(), unit: unit}
}

// Now returns the elapsed ticks truncated to 32 bits.
func (c *MonotonicCounter) Now() uint32 {
	return uint32(uint64(time.Since(c.start) / c.unit))
}

// ScaleFor returns the seconds-per-tick coefficient for a counter unit.
func ScaleFor(unit time.Duration) float64 {
	return unit.Seconds()
}

// FakeCounter is a test double whose value is set explicitly.
type FakeCounter struct {
	Value uint32
}

// Now returns the current scripted value.
func (f *FakeCounter) Now() uint32 {
	return f.Value
}

// Advance moves the counter forward by n ticks, wrapping at 2^32.
func (f *FakeCounter) Advance(n uint32) {
	f.Value += n
}
