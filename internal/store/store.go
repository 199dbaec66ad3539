// Package store persists channel settings in a small fixed-size image,
// laid out like the EEPROM of a microcontroller board.
package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"unicode/utf8"
)

// DefaultSize is the size of a fresh image in bytes.
const DefaultSize = 1024

// ErrOutOfRange is returned for accesses past the end of the image.
var ErrOutOfRange = errors.New("store: access out of range")

// Store reads and writes raw bytes at an offset.
type Store interface {
	Read(offset int, buf []byte) error
	Write(offset int, buf []byte) error
}

// MemStore is an in-memory image.
type MemStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemStore returns an erased image of the given size.
func NewMemStore(size int) *MemStore {
	return &MemStore{data: erased(size)}
}

func (m *MemStore) Read(offset int, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset < 0 || offset+len(buf) > len(m.data) {
		return ErrOutOfRange
	}
	copy(buf, m.data[offset:])
	return nil
}

func (m *MemStore) Write(offset int, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset < 0 || offset+len(buf) > len(m.data) {
		return ErrOutOfRange
	}
	copy(m.data[offset:], buf)
	return nil
}

// FileStore keeps the image in a regular file, created erased on first use.
type FileStore struct {
	mu   sync.Mutex
	f    *os.File
	size int
}

// OpenFile opens or creates the image at path.
func OpenFile(path string, size int) (*FileStore, error) {
	if size <= 0 {
		size = DefaultSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat store %s: %w", path, err)
	}
	if fi.Size() < int64(size) {
		pad := erased(size - int(fi.Size()))
		if _, err := f.WriteAt(pad, fi.Size()); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to initialise store %s: %w", path, err)
		}
	}

	return &FileStore{f: f, size: size}, nil
}

func (s *FileStore) Read(offset int, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset+len(buf) > s.size {
		return ErrOutOfRange
	}
	if _, err := s.f.ReadAt(buf, int64(offset)); err != nil {
		return fmt.Errorf("store read: %w", err)
	}
	return nil
}

func (s *FileStore) Write(offset int, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset+len(buf) > s.size {
		return ErrOutOfRange
	}
	if _, err := s.f.WriteAt(buf, int64(offset)); err != nil {
		return fmt.Errorf("store write: %w", err)
	}
	return s.f.Sync()
}

// Close closes the image file.
func (s *FileStore) Close() error {
	return s.f.Close()
}

// erased returns size bytes of 0xFF, the value of blank EEPROM cells.
func erased(size int) []byte {
	return bytes.Repeat([]byte{0xFF}, size)
}

// Settings is the persisted state of one channel.
//
// Layout (little endian, RecordSize bytes):
//
//	0     magic
//	1     code
//	2..5  interval seconds
//	6     power
//	7     reserved
//	8..23 name, zero padded
type Settings struct {
	Code     byte
	Interval uint32
	Power    bool
	Name     string
}

const (
	// RecordSize is the size of one Settings block.
	RecordSize = 24
	nameSize   = 16
	magic      = 0xA5
)

// ErrNoSettings is returned when a slot has never been written.
var ErrNoSettings = errors.New("store: no settings in slot")

// MarshalBinary encodes s into a RecordSize block. Names longer than 16
// bytes are cut at the last whole rune that fits.
func (s Settings) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	buf[0] = magic
	buf[1] = s.Code
	binary.LittleEndian.PutUint32(buf[2:6], s.Interval)
	if s.Power {
		buf[6] = 1
	}
	name := s.Name
	if len(name) > nameSize {
		n := nameSize
		for n > 0 && !utf8.RuneStart(name[n]) {
			n--
		}
		name = name[:n]
	}
	copy(buf[8:8+nameSize], name)
	return buf, nil
}

// UnmarshalBinary decodes a RecordSize block.
func (s *Settings) UnmarshalBinary(buf []byte) error {
	if len(buf) < RecordSize {
		return fmt.Errorf("store: short settings block (%d bytes)", len(buf))
	}
	if buf[0] != magic {
		return ErrNoSettings
	}
	s.Code = buf[1]
	s.Interval = binary.LittleEndian.Uint32(buf[2:6])
	s.Power = buf[6] != 0
	s.Name = string(bytes.TrimRight(buf[8:8+nameSize], "\x00"))
	return nil
}

// LoadSettings reads the block at slot.
func LoadSettings(st Store, slot int) (Settings, error) {
	var s Settings
	buf := make([]byte, RecordSize)
	if err := st.Read(slot*RecordSize, buf); err != nil {
		return s, fmt.Errorf("load slot %d: %w", slot, err)
	}
	if err := s.UnmarshalBinary(buf); err != nil {
		return s, fmt.Errorf("load slot %d: %w", slot, err)
	}
	return s, nil
}

// SaveSettings writes s into slot.
func SaveSettings(st Store, slot int, s Settings) error {
	buf, _ := s.MarshalBinary()
	if err := st.Write(slot*RecordSize, buf); err != nil {
		return fmt.Errorf("save slot %d: %w", slot, err)
	}
	return nil
}
