// Package bank builds the fixed set of sampling channels from configuration
// and steps them together once per scheduler tick.
package bank

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/sensor-sampler/internal/config"
	"github.com/sweeney/sensor-sampler/internal/hal"
	"github.com/sweeney/sensor-sampler/internal/sampling"
	"github.com/sweeney/sensor-sampler/internal/store"
)

// Commit is one freshly committed channel value.
type Commit struct {
	Code      byte
	Name      string
	Value     float32
	Raw       float32 // raw average behind Value
	Seconds   uint64  // scheduler second of the commit
	Timestamp time.Time
}

// Bank owns the channel Handlers. It is not safe for concurrent use; only the
// driver loop calls into it.
type Bank struct {
	handlers []*sampling.Handler
	byCode   map[byte]*sampling.Handler
	slots    map[byte]int
	leds     []*hal.Led
}

// New constructs one Handler per channel in configuration order, attaches
// LEDs and resolves correctors.
func New(p hal.Pins, channels []config.ChannelConfig) (*Bank, error) {
	if len(channels) == 0 {
		return nil, errors.New("bank: no channels configured")
	}

	b := &Bank{
		byCode: make(map[byte]*sampling.Handler, len(channels)),
		slots:  make(map[byte]int, len(channels)),
	}

	for i, ch := range channels {
		if len(ch.Code) != 1 {
			return nil, fmt.Errorf("bank: channel %d (%s): code must be a single character", i, ch.Name)
		}
		code := ch.Code[0]
		if _, dup := b.byCode[code]; dup {
			return nil, fmt.Errorf("bank: duplicate channel code %q", ch.Code)
		}

		conv, err := Conversion(ch.Conversion)
		if err != nil {
			return nil, fmt.Errorf("bank: channel %q: %w", ch.Code, err)
		}

		h := sampling.NewHandler(p, ch.AnalogPin, ch.DriveInput(), ch.DriveOutput(),
			sampling.WithInterval(ch.Interval),
			sampling.WithSamples(ch.Samples),
			sampling.WithCapacity(ch.History),
			sampling.WithConversion(conv),
		)
		h.SetName(ch.Name, code)

		if ch.Led != nil {
			led := hal.NewLed(p, ch.Led.Pin, false, ch.Led.Reverse)
			h.SetLed(led)
			b.leds = append(b.leds, led)
		}
		if ch.Blink > 0 {
			h.SetBlink(ch.Blink)
		}
		if ch.Start != nil {
			h.SetNext(*ch.Start)
		}
		if !ch.PowerOn() {
			h.SetPower(false)
		}

		b.handlers = append(b.handlers, h)
		b.byCode[code] = h
		b.slots[code] = i
	}

	for _, ch := range channels {
		if ch.Corrector == "" {
			continue
		}
		if ch.Corrector == ch.Code {
			return nil, fmt.Errorf("bank: channel %q cannot correct itself", ch.Code)
		}
		corr, ok := b.byCode[ch.Corrector[0]]
		if !ok || len(ch.Corrector) != 1 {
			return nil, fmt.Errorf("bank: channel %q: unknown corrector %q", ch.Code, ch.Corrector)
		}
		fn, err := Correction(ch.Correction)
		if err != nil {
			return nil, fmt.Errorf("bank: channel %q: %w", ch.Code, err)
		}
		b.byCode[ch.Code[0]].SetCorrector(corr, fn)
	}

	return b, nil
}

// Conversion resolves a configured conversion.
func Conversion(c config.ConversionConfig) (sampling.Conversion, error) {
	switch c.Kind {
	case "", config.ConversionIdentity:
		return sampling.Identity, nil
	case config.ConversionLinear:
		return sampling.Linear(c.Gain, c.Offset), nil
	case config.ConversionADC:
		return sampling.ADCVolts(c.VRef, c.Bits), nil
	case config.ConversionThermistor:
		return sampling.Thermistor(c.Beta, c.R0, c.T0, c.Series, c.Bits), nil
	default:
		return nil, fmt.Errorf("unknown conversion %q", c.Kind)
	}
}

// Correction resolves a configured correction.
func Correction(kind string) (sampling.Correction, error) {
	switch kind {
	case "", config.CorrectionSubtract:
		return sampling.Subtract, nil
	case config.CorrectionScale:
		return sampling.Scale, nil
	case config.CorrectionRatio:
		return sampling.Ratio, nil
	default:
		return nil, fmt.Errorf("unknown correction %q", kind)
	}
}

// Update steps every handler in configuration order and returns the values
// committed during this tick.
func (b *Bank) Update(c sampling.Clock, wall time.Time) []Commit {
	var commits []Commit
	for _, h := range b.handlers {
		if !h.Update(c) {
			continue
		}
		commits = append(commits, Commit{
			Code:      h.Code(),
			Name:      h.Name(),
			Value:     h.Value(),
			Raw:       h.LastRaw(),
			Seconds:   h.Time(),
			Timestamp: wall,
		})
	}
	return commits
}

// Lookup returns the handler with the given code.
func (b *Bank) Lookup(code byte) (*sampling.Handler, bool) {
	h, ok := b.byCode[code]
	return h, ok
}

// Handlers returns the handlers in configuration order.
func (b *Bank) Handlers() []*sampling.Handler {
	return b.handlers
}

// SetPowerAll gates every channel.
func (b *Bank) SetPowerAll(on bool) {
	for _, h := range b.handlers {
		h.SetPower(on)
	}
}

// AnyPowered reports whether at least one channel is sampling.
func (b *Bank) AnyPowered() bool {
	for _, h := range b.handlers {
		if h.Power() {
			return true
		}
	}
	return false
}

// Snapshots returns a copy of every channel's state.
func (b *Bank) Snapshots() []sampling.Snapshot {
	out := make([]sampling.Snapshot, len(b.handlers))
	for i, h := range b.handlers {
		out[i] = h.Snapshot()
	}
	return out
}

// Restore applies persisted interval, name and power to each channel. Slots
// that were never written or belong to a different code are skipped.
func (b *Bank) Restore(st store.Store) (int, error) {
	restored := 0
	for _, h := range b.handlers {
		s, err := store.LoadSettings(st, b.slots[h.Code()])
		if errors.Is(err, store.ErrNoSettings) || errors.Is(err, store.ErrOutOfRange) {
			continue
		}
		if err != nil {
			return restored, err
		}
		if s.Code != h.Code() {
			continue
		}
		if s.Interval > 0 {
			h.SetDelay(s.Interval)
		}
		if s.Name != "" {
			h.SetName(s.Name, h.Code())
		}
		h.SetPower(s.Power)
		restored++
	}
	return restored, nil
}

// Persist writes the current settings of one channel.
func (b *Bank) Persist(st store.Store, code byte) error {
	h, ok := b.byCode[code]
	if !ok {
		return fmt.Errorf("bank: unknown channel %q", code)
	}
	return store.SaveSettings(st, b.slots[code], store.Settings{
		Code:     code,
		Interval: uint32(h.Interval()),
		Power:    h.Power(),
		Name:     h.Name(),
	})
}

// Close turns every LED off.
func (b *Bank) Close() {
	for _, l := range b.leds {
		l.Set(false)
	}
}
