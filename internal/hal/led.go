package hal

// Led is an on/off indicator on a digital output. With reverse set the pin
// is active-low; callers always speak in logical on/off.
type Led struct {
	pins    Pins
	pin     int
	reverse bool
	state   bool
}

// NewLed configures an indicator and drives its initial state.
func NewLed(p Pins, pin int, state, reverse bool) *Led {
	l := &Led{pins: p, pin: pin, reverse: reverse}
	l.Set(state)
	return l
}

// Set switches the indicator on or off.
func (l *Led) Set(on bool) {
	l.state = on
	l.pins.DigitalWrite(l.pin, on != l.reverse)
}

// State returns the logical state.
func (l *Led) State() bool {
	return l.state
}

// Pin returns the output pin number.
func (l *Led) Pin() int {
	return l.pin
}
