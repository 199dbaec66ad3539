// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/sensor-sampler/internal/store"
)

// Timer resolutions.
const (
	ResolutionMilli = "milli"
	ResolutionMicro = "micro"
)

// Correction kinds.
const (
	CorrectionSubtract = "subtract"
	CorrectionScale    = "scale"
	CorrectionRatio    = "ratio"
)

// Conversion kinds.
const (
	ConversionIdentity   = "identity"
	ConversionLinear     = "linear"
	ConversionADC        = "adc"
	ConversionThermistor = "thermistor"
)

// Config represents the daemon configuration.
type Config struct {
	Timer     TimerConfig     `yaml:"timer"`
	Board     BoardConfig     `yaml:"board"`
	Channels  []ChannelConfig `yaml:"channels"`
	Button    ButtonConfig    `yaml:"button"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
	Report    ReportConfig    `yaml:"report"`
	Store     StoreConfig     `yaml:"store"`
	Heartbeat time.Duration   `yaml:"heartbeat"` // 0 disables
}

// TimerConfig selects the hardware counter resolution and the driver tick.
type TimerConfig struct {
	Resolution string        `yaml:"resolution"`
	Tick       time.Duration `yaml:"tick"`
}

// BoardConfig selects the pin backend.
type BoardConfig struct {
	Chip string `yaml:"chip"`
	IIO  string `yaml:"iio"`
}

// ChannelConfig describes one sensor channel.
type ChannelConfig struct {
	Name           string           `yaml:"name"`
	Code           string           `yaml:"code"` // single character
	AnalogPin      int              `yaml:"analog_pin"`
	DriveInputPin  *int             `yaml:"drive_input_pin,omitempty"`
	DriveOutputPin *int             `yaml:"drive_output_pin,omitempty"`
	Interval       uint32           `yaml:"interval"` // seconds
	Samples        int              `yaml:"samples"`  // intermediate reads per commit
	History        int              `yaml:"history"`  // committed values kept
	Start          *uint64          `yaml:"start,omitempty"`
	Blink          uint64           `yaml:"blink"` // seconds, 0 disables
	Led            *LedConfig       `yaml:"led,omitempty"`
	Corrector      string           `yaml:"corrector,omitempty"` // code of the correcting channel
	Correction     string           `yaml:"correction,omitempty"`
	Conversion     ConversionConfig `yaml:"conversion"`
	Power          *bool            `yaml:"power,omitempty"`
}

// LedConfig describes a status indicator.
type LedConfig struct {
	Pin     int  `yaml:"pin"`
	Reverse bool `yaml:"reverse"`
}

// ConversionConfig describes the raw-to-unit conversion of a channel.
type ConversionConfig struct {
	Kind   string  `yaml:"kind"`
	Gain   float32 `yaml:"gain,omitempty"`
	Offset float32 `yaml:"offset,omitempty"`
	VRef   float32 `yaml:"vref,omitempty"`
	Bits   int     `yaml:"bits,omitempty"`
	Beta   float32 `yaml:"beta,omitempty"`
	R0     float32 `yaml:"r0,omitempty"`
	T0     float32 `yaml:"t0,omitempty"`
	Series float32 `yaml:"series,omitempty"`
	Unit   string  `yaml:"unit,omitempty"`
}

// ButtonConfig describes the optional power button.
type ButtonConfig struct {
	Pin       *int          `yaml:"pin,omitempty"`
	Debounce  time.Duration `yaml:"debounce"`
	ActiveLow bool          `yaml:"active_low"`
}

// MQTTConfig contains broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Buffer   int    `yaml:"buffer"` // messages kept while disconnected
}

// HTTPConfig contains the status server address (empty disables).
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ReportConfig controls the line report of committed values.
type ReportConfig struct {
	Serial  string `yaml:"serial"` // serial port; empty writes to stdout
	Baud    int    `yaml:"baud"`
	Verbose bool   `yaml:"verbose"`
	Enabled bool   `yaml:"enabled"`
}

// StoreConfig locates the settings image.
type StoreConfig struct {
	Path string `yaml:"path"` // empty disables persistence
	Size int    `yaml:"size"`
}

// Default returns a configuration with a single identity channel on pin 0.
func Default() *Config {
	return &Config{
		Timer: TimerConfig{
			Resolution: ResolutionMilli,
			Tick:       100 * time.Millisecond,
		},
		Board: BoardConfig{
			Chip: "gpiochip0",
			IIO:  "/sys/bus/iio/devices/iio:device0",
		},
		Channels: []ChannelConfig{
			{
				Name:       "analog0",
				Code:       "A",
				AnalogPin:  0,
				Interval:   60,
				Samples:    10,
				History:    8,
				Conversion: ConversionConfig{Kind: ConversionIdentity},
			},
		},
		Button: ButtonConfig{
			Debounce:  50 * time.Millisecond,
			ActiveLow: true,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "sensor-sampler",
			Buffer:   256,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Report: ReportConfig{
			Baud: 9600,
		},
		Store: StoreConfig{
			Size: 1024,
		},
		Heartbeat: 15 * time.Minute,
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist the
// defaults are returned; missing fields are filled from the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) ensureDefaults() {
	def := Default()

	if c.Timer.Resolution == "" {
		c.Timer.Resolution = def.Timer.Resolution
	}
	if c.Timer.Tick == 0 {
		c.Timer.Tick = def.Timer.Tick
	}
	if c.Board.Chip == "" {
		c.Board.Chip = def.Board.Chip
	}
	if c.Board.IIO == "" {
		c.Board.IIO = def.Board.IIO
	}

	if len(c.Channels) == 0 {
		c.Channels = def.Channels
	}
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Interval == 0 {
			ch.Interval = def.Channels[0].Interval
		}
		if ch.Samples == 0 {
			ch.Samples = def.Channels[0].Samples
		}
		if ch.History == 0 {
			ch.History = def.Channels[0].History
		}
		if ch.Conversion.Kind == "" {
			ch.Conversion.Kind = ConversionIdentity
		}
		if ch.Corrector != "" && ch.Correction == "" {
			ch.Correction = CorrectionSubtract
		}
	}

	if c.Button.Debounce == 0 {
		c.Button.Debounce = def.Button.Debounce
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.Buffer == 0 {
		c.MQTT.Buffer = def.MQTT.Buffer
	}
	if c.Report.Baud == 0 {
		c.Report.Baud = def.Report.Baud
	}
	if c.Store.Size == 0 {
		c.Store.Size = def.Store.Size
	}
}

// Validate checks the channel topology and enumerated fields.
func (c *Config) Validate() error {
	var errs []error

	switch c.Timer.Resolution {
	case ResolutionMilli, ResolutionMicro:
	default:
		errs = append(errs, fmt.Errorf("timer: unknown resolution %q", c.Timer.Resolution))
	}
	if c.Timer.Tick <= 0 {
		errs = append(errs, errors.New("timer: tick must be positive"))
	}

	if need := len(c.Channels) * store.RecordSize; c.Store.Size < need {
		errs = append(errs, fmt.Errorf("store: size %d cannot hold %d channels (need %d bytes)", c.Store.Size, len(c.Channels), need))
	}

	codes := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if len(ch.Code) != 1 {
			errs = append(errs, fmt.Errorf("channel %d (%s): code must be a single character, got %q", i, ch.Name, ch.Code))
			continue
		}
		if codes[ch.Code] {
			errs = append(errs, fmt.Errorf("channel %d (%s): duplicate code %q", i, ch.Name, ch.Code))
		}
		codes[ch.Code] = true
	}

	for i, ch := range c.Channels {
		if ch.Corrector != "" {
			if ch.Corrector == ch.Code {
				errs = append(errs, fmt.Errorf("channel %q: cannot correct itself", ch.Code))
			} else if !codes[ch.Corrector] {
				errs = append(errs, fmt.Errorf("channel %q: unknown corrector %q", ch.Code, ch.Corrector))
			}
			switch ch.Correction {
			case CorrectionSubtract, CorrectionScale, CorrectionRatio:
			default:
				errs = append(errs, fmt.Errorf("channel %q: unknown correction %q", ch.Code, ch.Correction))
			}
		}
		switch ch.Conversion.Kind {
		case ConversionIdentity, ConversionLinear:
		case ConversionADC, ConversionThermistor:
			if ch.Conversion.Bits <= 0 || ch.Conversion.Bits > 24 {
				errs = append(errs, fmt.Errorf("channel %d (%s): conversion bits must be in 1..24", i, ch.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("channel %d (%s): unknown conversion %q", i, ch.Name, ch.Conversion.Kind))
		}
	}

	return errors.Join(errs...)
}

// DriveInput returns the drive-input pin or -1 when unused.
func (ch ChannelConfig) DriveInput() int {
	if ch.DriveInputPin == nil {
		return -1
	}
	return *ch.DriveInputPin
}

// DriveOutput returns the drive-output pin or -1 when unused.
func (ch ChannelConfig) DriveOutput() int {
	if ch.DriveOutputPin == nil {
		return -1
	}
	return *ch.DriveOutputPin
}

// PowerOn returns the configured initial power state (default on).
func (ch ChannelConfig) PowerOn() bool {
	return ch.Power == nil || *ch.Power
}

// CounterUnit returns the tick length of the configured counter resolution.
func (t TimerConfig) CounterUnit() time.Duration {
	if t.Resolution == ResolutionMicro {
		return time.Microsecond
	}
	return time.Millisecond
}
