//go:build linux

package hal

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// DefaultIIODevice is the sysfs directory of the first IIO ADC.
const DefaultIIODevice = "/sys/bus/iio/devices/iio:device0"

type lineMode int

const (
	modeInput lineMode = iota
	modeOutput
)

type line struct {
	l    *gpiocdev.Line
	mode lineMode
}

// Board drives real hardware: digital lines through the GPIO character
// device, analog inputs through an IIO ADC in sysfs.
// Lines are requested on first use.
type Board struct {
	chip   *gpiocdev.Chip
	iioDir string
	lines  map[int]*line
	// failing holds the last logged error per operation and pin.
	failing map[string]string
}

// NewBoard opens the named GPIO chip (e.g. "gpiochip0") and the IIO device
// directory used for analog reads.
func NewBoard(chipName, iioDir string) (*Board, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	if iioDir == "" {
		iioDir = DefaultIIODevice
	}
	return &Board{
		chip:    chip,
		iioDir:  iioDir,
		lines:   make(map[int]*line),
		failing: make(map[string]string),
	}, nil
}

// fail logs err for op on pin unless the same error was already logged, so a
// dead input polled every tick does not flood the log.
func (b *Board) fail(op string, pin int, err error) {
	key := fmt.Sprintf("%s pin %d", op, pin)
	msg := err.Error()
	if b.failing[key] == msg {
		return
	}
	b.failing[key] = msg
	log.Printf("hal: %s: %s", key, msg)
}

// ok clears the failure state for op on pin, logging the recovery.
func (b *Board) ok(op string, pin int) {
	if len(b.failing) == 0 {
		return
	}
	key := fmt.Sprintf("%s pin %d", op, pin)
	if _, failed := b.failing[key]; failed {
		delete(b.failing, key)
		log.Printf("hal: %s: recovered", key)
	}
}

// AnalogRead reads in_voltage<pin>_raw from the IIO device.
func (b *Board) AnalogRead(pin int) int {
	path := filepath.Join(b.iioDir, fmt.Sprintf("in_voltage%d_raw", pin))
	data, err := os.ReadFile(path)
	if err != nil {
		b.fail("analog", pin, err)
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		b.fail("analog", pin, fmt.Errorf("parse %q: %w", data, err))
		return 0
	}
	b.ok("analog", pin)
	return v
}

// DigitalWrite drives an output line, requesting it on first use.
func (b *Board) DigitalWrite(pin int, high bool) {
	l, err := b.request(pin, modeOutput)
	if err != nil {
		b.fail("write", pin, err)
		return
	}
	if err := l.SetValue(boolToLevel(high)); err != nil {
		b.fail("write", pin, err)
		return
	}
	b.ok("write", pin)
}

// DigitalRead reads an input line with pull-down, requesting it on first use.
func (b *Board) DigitalRead(pin int) bool {
	l, err := b.request(pin, modeInput)
	if err != nil {
		b.fail("read", pin, err)
		return false
	}
	v, err := l.Value()
	if err != nil {
		b.fail("read", pin, err)
		return false
	}
	b.ok("read", pin)
	return v != 0
}

func (b *Board) request(pin int, mode lineMode) (*gpiocdev.Line, error) {
	if existing, ok := b.lines[pin]; ok {
		if existing.mode == mode {
			return existing.l, nil
		}
		var err error
		if mode == modeOutput {
			err = existing.l.Reconfigure(gpiocdev.AsOutput(0))
		} else {
			err = existing.l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown)
		}
		if err != nil {
			return nil, fmt.Errorf("reconfigure line %d: %w", pin, err)
		}
		existing.mode = mode
		return existing.l, nil
	}

	var (
		l   *gpiocdev.Line
		err error
	)
	if mode == modeOutput {
		l, err = b.chip.RequestLine(pin, gpiocdev.AsOutput(0))
	} else {
		l, err = b.chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
	}
	if err != nil {
		return nil, fmt.Errorf("request line %d: %w", pin, err)
	}
	b.lines[pin] = &line{l: l, mode: mode}
	return l, nil
}

// Close releases all lines. Lines are returned to input with pull-down first
// so external hardware sees the same state as after a reboot.
func (b *Board) Close() error {
	var errs []error

	for pin, ln := range b.lines {
		if err := ln.l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := ln.l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	b.lines = make(map[int]*line)

	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func boolToLevel(b bool) int {
	if b {
		return 1
	}
	return 0
}
