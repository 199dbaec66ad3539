package status

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/sweeney/sensor-sampler/internal/sampling"
)

// Float is a float32 that encodes NaN and infinities as null.
type Float float32

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 32), nil
}

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	BootID        string        `json:"boot_id"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Seconds       uint64        `json:"seconds"`
	Ticks         uint64        `json:"ticks"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Channels      []ChannelJSON `json:"channels"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ChannelJSON is the JSON representation of one channel.
type ChannelJSON struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Value    Float   `json:"value"`
	Average  Float   `json:"average"`
	Raw      int     `json:"raw"`
	Seconds  uint64  `json:"seconds"`
	Interval uint64  `json:"interval"`
	Count    int     `json:"count"`
	Power    bool    `json:"power"`
	History  []Float `json:"history"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Resolution  string `json:"resolution"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Store       string `json:"store,omitempty"`
}

// ChannelToJSON converts a channel snapshot.
func ChannelToJSON(ch sampling.Snapshot) ChannelJSON {
	history := make([]Float, len(ch.History))
	for i, v := range ch.History {
		history[i] = Float(v)
	}
	return ChannelJSON{
		Code:     string(ch.Code),
		Name:     ch.Name,
		Value:    Float(ch.Value),
		Average:  Float(ch.Average),
		Raw:      ch.Raw,
		Seconds:  ch.Seconds,
		Interval: ch.Interval,
		Count:    ch.Count,
		Power:    ch.Power,
		History:  history,
	}
}

func buildInner(snap Snapshot) StatusInner {
	channels := make([]ChannelJSON, len(snap.Channels))
	for i, ch := range snap.Channels {
		channels[i] = ChannelToJSON(ch)
	}

	return StatusInner{
		BootID:        snap.BootID,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Seconds:       snap.Seconds,
		Ticks:         snap.Ticks,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Channels:      channels,
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Resolution:  snap.Config.Resolution,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Store:       snap.Config.Store,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
