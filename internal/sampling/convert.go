package sampling

import "github.com/chewxy/math32"

// Conversion maps an averaged raw reading to the human-readable unit.
type Conversion func(raw float32) float32

// Correction adjusts a raw reading r using the corrector channel's current
// average c.
type Correction func(r, c float32) float32

// Identity leaves raw readings unchanged.
func Identity(raw float32) float32 { return raw }

// Linear returns gain*raw + offset.
func Linear(gain, offset float32) Conversion {
	return func(raw float32) float32 {
		return gain*raw + offset
	}
}

// ADCVolts converts a reading from a bits-wide ADC referenced to vref volts.
func ADCVolts(vref float32, bits int) Conversion {
	full := float32(uint32(1)<<uint(bits) - 1)
	return func(raw float32) float32 {
		return raw / full * vref
	}
}

// Thermistor converts the reading of an NTC thermistor wired as the lower leg
// of a divider with a series resistor to degrees Celsius, using the beta
// equation. r0 is the resistance at t0 (°C).
func Thermistor(beta, r0, t0, series float32, bits int) Conversion {
	full := float32(uint32(1)<<uint(bits) - 1)
	t0K := t0 + 273.15
	return func(raw float32) float32 {
		if raw <= 0 || raw >= full {
			return math32.NaN()
		}
		r := series * raw / (full - raw)
		invT := 1/t0K + math32.Log(r/r0)/beta
		return 1/invT - 273.15
	}
}

// Subtract removes the corrector's average, e.g. a baseline or offset channel.
func Subtract(r, c float32) float32 { return r - c }

// Scale multiplies by the corrector's average, e.g. a gain reference.
func Scale(r, c float32) float32 { return r * c }

// Ratio divides by the corrector's average. A zero corrector leaves r as is.
func Ratio(r, c float32) float32 {
	if c == 0 {
		return r
	}
	return r / c
}
