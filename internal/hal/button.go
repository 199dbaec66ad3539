package hal

// Elapsed is the time source a Button debounces against.
type Elapsed interface {
	Elapsed() float64
}

// Button is a debounced digital input.
//
// A new level must be observed continuously for the debounce window before
// it becomes the stable state. The first stable level is the baseline and is
// never reported as a change.
type Button struct {
	pins      Pins
	pin       int
	activeLow bool
	debounce  float64

	stable       bool
	pending      bool
	hasPending   bool
	pendingSince float64
	baselined    bool
	changed      bool
}

// NewButton creates a button on pin. debounce is in seconds.
func NewButton(p Pins, pin int, debounce float64, activeLow bool) *Button {
	return &Button{
		pins:      p,
		pin:       pin,
		activeLow: activeLow,
		debounce:  debounce,
	}
}

// Update samples the pin. Changed reports whether this call produced a
// debounced transition.
func (b *Button) Update(t Elapsed) {
	b.changed = false
	now := t.Elapsed()
	level := b.pins.DigitalRead(b.pin) != b.activeLow

	if !b.baselined {
		if !b.hasPending || b.pending != level {
			b.pending = level
			b.hasPending = true
			b.pendingSince = now
			return
		}
		if now-b.pendingSince >= b.debounce {
			b.stable = level
			b.baselined = true
			b.hasPending = false
		}
		return
	}

	if level == b.stable {
		b.hasPending = false
		return
	}

	if !b.hasPending || b.pending != level {
		b.pending = level
		b.hasPending = true
		b.pendingSince = now
		return
	}

	if now-b.pendingSince >= b.debounce {
		b.stable = level
		b.hasPending = false
		b.changed = true
	}
}

// Changed reports whether the last Update produced a transition.
func (b *Button) Changed() bool {
	return b.changed
}

// Get returns the debounced logical state (true = pressed).
func (b *Button) Get() bool {
	return b.stable
}

// Pressed reports a debounced release-to-press transition on the last Update.
func (b *Button) Pressed() bool {
	return b.changed && b.stable
}
