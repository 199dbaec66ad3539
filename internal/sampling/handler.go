// Package sampling contains the per-channel sampling state machine.
// It has no dependency on the OS, transports or wall-clock time: time comes
// from a Clock passed into Update, pins from a hal.Pins.
package sampling

import (
	"fmt"
	"io"

	"github.com/sweeney/sensor-sampler/internal/clock"
	"github.com/sweeney/sensor-sampler/internal/hal"
)

// Defaults applied by NewHandler.
const (
	DefaultInterval = 60 // seconds between committed values
	DefaultSamples  = 10 // intermediate reads per committed value
	DefaultCapacity = 8  // committed values kept in the ring
)

// Clock is the monotonic whole-second stream a Handler schedules against.
type Clock interface {
	Sec() uint64
}

// Indicator is an on/off status output.
type Indicator interface {
	Set(on bool)
}

// Handler samples one analog channel, averages readings between commits and
// keeps a fixed ring of recently committed values.
//
// The LED and corrector are borrowed references owned by whoever built the
// channel topology. Set them once before the first Update.
type Handler struct {
	pins        hal.Pins
	analogPin   int
	driveInput  int
	driveOutput int

	interval uint64
	samples  uint64
	name     string
	code     byte
	convert  Conversion

	count   int
	sum     float32
	raw     int
	lastRaw float32
	seconds uint64

	values  []float32
	index   int
	commits int

	intermediate clock.Deadline
	sample       clock.Deadline

	led        Indicator
	corrector  *Handler
	correction Correction

	power       bool
	resync      bool
	blinkOn     bool
	blink       clock.Deadline
	blinkEvery  uint64
	blinkResync bool
}

// Option configures a Handler at construction.
type Option func(*Handler)

// WithInterval sets the seconds between committed values.
func WithInterval(seconds uint32) Option {
	return func(h *Handler) { h.interval = uint64(max(seconds, 1)) }
}

// WithSamples sets how many intermediate reads are taken per commit.
func WithSamples(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.samples = uint64(n)
		}
	}
}

// WithCapacity sets the size of the committed value ring.
func WithCapacity(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.values = make([]float32, n)
		}
	}
}

// WithConversion sets the raw-to-unit conversion applied at commit.
func WithConversion(c Conversion) Option {
	return func(h *Handler) {
		if c != nil {
			h.convert = c
		}
	}
}

// WithBlink sets the indicator blink period in seconds (0 disables).
func WithBlink(period uint64) Option {
	return func(h *Handler) { h.blinkEvery = period }
}

// NewHandler creates a powered Handler. driveInput and driveOutput may be
// hal.NoPin.
func NewHandler(p hal.Pins, analogPin, driveInput, driveOutput int, opts ...Option) *Handler {
	h := &Handler{
		pins:        p,
		analogPin:   analogPin,
		driveInput:  driveInput,
		driveOutput: driveOutput,
		interval:    DefaultInterval,
		samples:     DefaultSamples,
		convert:     Identity,
		values:      make([]float32, DefaultCapacity),
		correction:  Subtract,
		power:       true,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.intermediate = clock.NewDeadline(0, h.intermediatePeriod())
	h.sample = clock.NewDeadline(h.interval, h.interval)
	h.blink = clock.NewDeadline(0, h.blinkEvery)

	if h.driveInput >= 0 {
		h.pins.DigitalWrite(h.driveInput, false)
	}
	if h.driveOutput >= 0 {
		h.pins.DigitalWrite(h.driveOutput, h.power)
	}
	return h
}

func (h *Handler) intermediatePeriod() uint64 {
	return max(h.interval/h.samples, 1)
}

// Update runs one scheduler tick. It returns true when a fresh value was
// committed during this tick.
func (h *Handler) Update(c Clock) bool {
	now := c.Sec()

	if !h.power {
		h.setBlink(false)
		return false
	}

	if h.resync {
		h.intermediate.Resync(now)
		h.sample.Resync(now + h.interval)
		h.blink.Resync(now)
		h.resync = false
	}
	if h.blinkResync {
		h.blink.Reset(now)
		h.blinkResync = false
	}

	if h.intermediate.Due(now) {
		h.AddValue(c)
	}

	committed := false
	if h.sample.Due(now) {
		h.commit(now)
		committed = true
	}

	if h.led != nil && h.blinkEvery > 0 && h.blink.Due(now) {
		h.setBlink(!h.blinkOn)
	}

	return committed
}

// AddValue takes one raw reading, corrects it and adds it to the running
// accumulation.
func (h *Handler) AddValue(c Clock) {
	if h.driveInput >= 0 {
		h.pins.DigitalWrite(h.driveInput, true)
	}
	h.raw = h.pins.AnalogRead(h.analogPin)
	if h.driveInput >= 0 {
		h.pins.DigitalWrite(h.driveInput, false)
	}

	v := float32(h.raw)
	if h.corrector != nil {
		v = h.correction(v, h.corrector.Average())
	}
	h.sum += v
	h.count++
}

func (h *Handler) commit(now uint64) {
	avg := h.sum / float32(max(h.count, 1))

	h.values[h.index] = h.convert(avg)
	h.index = (h.index + 1) % len(h.values)
	h.commits++

	h.lastRaw = avg
	h.sum = 0
	h.count = 0
	h.seconds = now
}

func (h *Handler) setBlink(on bool) {
	h.blinkOn = on
	if h.led != nil {
		h.led.Set(on)
	}
}

// Average returns the mean of the readings accumulated since the last
// commit. With nothing accumulated yet it returns the last committed raw
// average (0 before the first commit).
func (h *Handler) Average() float32 {
	if h.count == 0 {
		return h.lastRaw
	}
	return h.sum / float32(h.count)
}

// Value returns the most recently committed value, converted.
func (h *Handler) Value() float32 {
	return h.values[(h.index-1+len(h.values))%len(h.values)]
}

// Time returns the second at which the latest value was committed.
func (h *Handler) Time() uint64 {
	return h.seconds
}

// History returns the committed values still in the ring, oldest first.
func (h *Handler) History() []float32 {
	n := min(h.commits, len(h.values))
	out := make([]float32, n)
	start := (h.index - n + len(h.values)) % len(h.values)
	for i := range n {
		out[i] = h.values[(start+i)%len(h.values)]
	}
	return out
}

// SetDelay changes the seconds between committed values. Deadlines already
// scheduled are kept; the new periods apply from their next advancement.
func (h *Handler) SetDelay(seconds uint32) {
	h.interval = uint64(max(seconds, 1))
	h.intermediate.SetPeriod(h.intermediatePeriod())
	h.sample.SetPeriod(h.interval)
}

// SetName sets the display name and single-character report code.
func (h *Handler) SetName(name string, code byte) {
	h.name = name
	h.code = code
}

// SetLed attaches a status indicator (nil detaches).
func (h *Handler) SetLed(l Indicator) {
	h.led = l
}

// SetCorrector designates another Handler whose average adjusts this
// channel's raw readings. A nil fn keeps Subtract.
func (h *Handler) SetCorrector(c *Handler, fn Correction) {
	h.corrector = c
	if fn != nil {
		h.correction = fn
	}
}

// SetNext force-sets the next commit deadline, e.g. to stagger channels.
func (h *Handler) SetNext(t uint64) {
	h.sample.Reset(t)
}

// SetBlink sets the blink period in seconds; 0 disables blinking and turns
// the indicator off. Enabling blinking starts the phase at the next Update
// instead of at the stale construction deadline.
func (h *Handler) SetBlink(period uint64) {
	if period > 0 && h.blinkEvery == 0 {
		h.blinkResync = true
	}
	if period == 0 && h.blinkOn {
		h.setBlink(false)
	}
	h.blinkEvery = period
	h.blink.SetPeriod(period)
}

// SetPower gates sampling. Turning power back on discards any partial
// accumulation and resynchronises the deadlines on the next Update.
func (h *Handler) SetPower(on bool) {
	if on && !h.power {
		h.sum = 0
		h.count = 0
		h.resync = true
	}
	h.power = on
	if !on {
		h.setBlink(false)
	}
	if h.driveOutput >= 0 {
		h.pins.DigitalWrite(h.driveOutput, on)
	}
}

// Power reports whether sampling is enabled.
func (h *Handler) Power() bool {
	return h.power
}

// Name returns the display name.
func (h *Handler) Name() string { return h.name }

// Code returns the report code.
func (h *Handler) Code() byte { return h.code }

// Interval returns the seconds between committed values.
func (h *Handler) Interval() uint64 { return h.interval }

// Count returns the readings accumulated since the last commit.
func (h *Handler) Count() int { return h.count }

// Raw returns the last raw reading.
func (h *Handler) Raw() int { return h.raw }

// LastRaw returns the raw average behind the latest committed value.
func (h *Handler) LastRaw() float32 { return h.lastRaw }

// NextSample returns the second of the next commit.
func (h *Handler) NextSample() uint64 { return h.sample.Next() }

// NextIntermediate returns the second of the next intermediate read.
func (h *Handler) NextIntermediate() uint64 { return h.intermediate.Next() }

// Blink reports the current blink phase.
func (h *Handler) Blink() bool { return h.blinkOn }

// Display writes a one-line report of the channel.
func (h *Handler) Display(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "%c %s: %.2f @%ds", h.code, h.name, h.Value(), h.seconds)
	if verbose {
		power := "off"
		if h.power {
			power = "on"
		}
		fmt.Fprintf(w, " raw=%d avg=%.1f n=%d next=%d/%d every=%ds power=%s",
			h.raw, h.Average(), h.count, h.intermediate.Next(), h.sample.Next(), h.interval, power)
	}
	fmt.Fprintln(w)
}

// Snapshot is a value copy of a Handler's reportable state.
type Snapshot struct {
	Name     string
	Code     byte
	Value    float32
	Average  float32
	Raw      int
	Seconds  uint64
	Interval uint64
	Count    int
	Power    bool
	History  []float32
}

// Snapshot returns a copy safe to hand to other goroutines.
func (h *Handler) Snapshot() Snapshot {
	return Snapshot{
		Name:     h.name,
		Code:     h.code,
		Value:    h.Value(),
		Average:  h.Average(),
		Raw:      h.raw,
		Seconds:  h.seconds,
		Interval: h.interval,
		Count:    h.count,
		Power:    h.power,
		History:  h.History(),
	}
}
