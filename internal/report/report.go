// Package report writes one-line channel reports to a console or serial port.
package report

import (
	"bytes"
	"fmt"
	"io"
	"log"

	"go.bug.st/serial"

	"github.com/sweeney/sensor-sampler/internal/sampling"
)

// DefaultBaudRate is used when no baud rate is configured.
const DefaultBaudRate = 9600

// Writer renders channel reports with Handler.Display.
type Writer struct {
	w       io.Writer
	closer  io.Closer
	verbose bool
	buf     bytes.Buffer
}

// New creates a Writer on w.
func New(w io.Writer, verbose bool) *Writer {
	return &Writer{w: w, verbose: verbose}
}

// OpenSerial creates a Writer on the named serial port.
func OpenSerial(name string, baud int, verbose bool) (*Writer, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return &Writer{w: port, closer: port, verbose: verbose}, nil
}

// Report writes one channel's line in a single write.
func (r *Writer) Report(h *sampling.Handler) error {
	r.buf.Reset()
	h.Display(&r.buf, r.verbose)
	if _, err := r.w.Write(r.buf.Bytes()); err != nil {
		return fmt.Errorf("report %c: %w", h.Code(), err)
	}
	return nil
}

// ReportAll writes every channel's line, stopping at the first error.
func (r *Writer) ReportAll(hs []*sampling.Handler) error {
	for _, h := range hs {
		if err := r.Report(h); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying port, if any.
func (r *Writer) Close() error {
	if r.closer == nil {
		return nil
	}
	if err := r.closer.Close(); err != nil {
		log.Printf("report: error closing port: %v", err)
		return err
	}
	return nil
}
