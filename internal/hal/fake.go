package hal

// FakeBoard is a test double with scripted analog inputs and recorded
// digital outputs.
type FakeBoard struct {
	// Analog holds scripted raw values per pin. Each AnalogRead consumes the
	// next value; once exhausted the last value repeats.
	Analog map[int][]int

	// Inputs holds the level returned by DigitalRead per pin.
	Inputs map[int]bool

	// Outputs holds the last level written per pin.
	Outputs map[int]bool

	// Writes records every DigitalWrite in order.
	Writes []Write

	// Reads counts AnalogRead calls per pin.
	Reads map[int]int

	index map[int]int
}

// Write is a single recorded DigitalWrite.
type Write struct {
	Pin  int
	High bool
}

// NewFakeBoard creates an empty FakeBoard.
func NewFakeBoard() *FakeBoard {
	return &FakeBoard{
		Analog:  make(map[int][]int),
		Inputs:  make(map[int]bool),
		Outputs: make(map[int]bool),
		Reads:   make(map[int]int),
		index:   make(map[int]int),
	}
}

// SetAnalog scripts the values returned for an analog pin and rewinds it.
func (f *FakeBoard) SetAnalog(pin int, values ...int) {
	f.Analog[pin] = values
	f.index[pin] = 0
}

// AnalogRead returns the next scripted value, or 0 if none is configured.
func (f *FakeBoard) AnalogRead(pin int) int {
	f.Reads[pin]++
	values := f.Analog[pin]
	if len(values) == 0 {
		return 0
	}
	i := f.index[pin]
	v := values[i]
	if i < len(values)-1 {
		f.index[pin] = i + 1
	}
	return v
}

// DigitalWrite records the write.
func (f *FakeBoard) DigitalWrite(pin int, high bool) {
	f.Outputs[pin] = high
	f.Writes = append(f.Writes, Write{Pin: pin, High: high})
}

// DigitalRead returns the configured input level.
func (f *FakeBoard) DigitalRead(pin int) bool {
	return f.Inputs[pin]
}

// Reset clears recorded activity and rewinds scripted values.
func (f *FakeBoard) Reset() {
	f.Outputs = make(map[int]bool)
	f.Writes = nil
	f.Reads = make(map[int]int)
	f.index = make(map[int]int)
}
