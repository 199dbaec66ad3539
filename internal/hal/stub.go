//go:build !linux

package hal

import "errors"

// Board is not available on non-Linux platforms.
type Board struct{}

// NewBoard returns an error on non-Linux platforms.
func NewBoard(chipName, iioDir string) (*Board, error) {
	return nil, errors.New("hal: not supported on this platform (requires Linux)")
}

// AnalogRead is not implemented on non-Linux platforms.
func (b *Board) AnalogRead(pin int) int { return 0 }

// DigitalWrite is not implemented on non-Linux platforms.
func (b *Board) DigitalWrite(pin int, high bool) {}

// DigitalRead is not implemented on non-Linux platforms.
func (b *Board) DigitalRead(pin int) bool { return false }

// Close is not implemented on non-Linux platforms.
func (b *Board) Close() error {
	return nil
}
