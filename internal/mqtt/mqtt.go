// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/sensor-sampler/internal/bank"
)

// TopicReadings is the MQTT topic for committed channel values.
const TopicReadings = "sensors/sampler/readings"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "sensors/sampler/system"

// System event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
)

// Publisher publishes readings and lifecycle events to MQTT.
type Publisher interface {
	// Publish sends a committed value to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(c bank.Commit) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Reading ReadingPayload `json:"reading"`
}

// ReadingPayload contains one committed value. Value is null when the
// conversion produced no number (e.g. a disconnected thermistor).
type ReadingPayload struct {
	Timestamp string   `json:"timestamp"`
	Code      string   `json:"code"`
	Name      string   `json:"name"`
	Value     *float32 `json:"value"`
	Raw       float32  `json:"raw"`
	Seconds   uint64   `json:"seconds"`
}

// FormatPayload creates the JSON payload for a committed value.
func FormatPayload(c bank.Commit) ([]byte, error) {
	var value *float32
	if v := float64(c.Value); !math.IsNaN(v) && !math.IsInf(v, 0) {
		value = &c.Value
	}
	payload := Payload{
		Reading: ReadingPayload{
			Timestamp: c.Timestamp.UTC().Format(time.RFC3339),
			Code:      string(c.Code),
			Name:      c.Name,
			Value:     value,
			Raw:       c.Raw,
			Seconds:   c.Seconds,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// willPayload is the last-will message the broker publishes if the daemon
// drops off without a clean disconnect. It has no timestamp.
func willPayload() []byte {
	b, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{
		Event:  EventShutdown,
		Reason: "MQTT_DISCONNECT",
	}})
	return b
}
