// Package hal provides pin access with hardware abstraction.
// The real implementation uses the Linux GPIO character device for digital
// lines and the IIO sysfs interface for analog inputs.
// The fake implementation allows testing without hardware.
package hal

// Pins is the pin-level interface the sampling core calls into.
//
// Reads never fail from the caller's point of view: a backend that cannot
// read a pin logs the problem and returns 0 (analog) or false (digital), which
// surfaces upstream as an implausible value rather than an error.
type Pins interface {
	// AnalogRead returns the raw ADC value of an analog input.
	AnalogRead(pin int) int

	// DigitalWrite drives an output pin high or low.
	DigitalWrite(pin int, high bool)

	// DigitalRead returns the raw level of an input pin.
	DigitalRead(pin int) bool
}

// NoPin marks an optional pin as absent.
const NoPin = -1
