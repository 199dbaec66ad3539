// Package status provides a thread-safe status tracker for the sampler daemon.
// It is written by the driver loop and read by HTTP handlers and MQTT events.
package status

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/sensor-sampler/internal/sampling"
)

// Config contains daemon configuration for display.
type Config struct {
	TickMs      int64
	HeartbeatMs int64
	Resolution  string
	Broker      string
	HTTPAddr    string
	Store       string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	BootID        string
	Channels      []sampling.Snapshot
	Seconds       uint64 // scheduler whole seconds
	Ticks         uint64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Channel returns the channel with the given code.
func (s Snapshot) Channel(code byte) (sampling.Snapshot, bool) {
	for _, ch := range s.Channels {
		if ch.Code == code {
			return ch, true
		}
	}
	return sampling.Snapshot{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config. Every
// Tracker gets a fresh boot id so consumers can tell restarts apart.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			BootID:    uuid.NewString(),
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update replaces the channel view and scheduler counters.
// Called from runLoop on every tick.
func (t *Tracker) Update(channels []sampling.Snapshot, seconds, ticks uint64) {
	t.mu.Lock()
	t.snap.Channels = channels
	t.snap.Seconds = seconds
	t.snap.Ticks = ticks
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = append([]sampling.Snapshot(nil), t.snap.Channels...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
