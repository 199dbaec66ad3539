package status

import (
	"encoding/json"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/sensor-sampler/internal/sampling"
)

func testChannels() []sampling.Snapshot {
	return []sampling.Snapshot{
		{Name: "tank", Code: 'T', Value: 21.5, Average: 1800, Raw: 1810, Seconds: 60, Interval: 60, Count: 3, Power: true, History: []float32{21, 21.5}},
		{Name: "probe", Code: 'P', Value: float32(math.NaN()), Interval: 30},
	}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{TickMs: 100, Broker: "tcp://localhost:1883", HTTPAddr: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.TickMs != 100 {
		t.Errorf("Config.TickMs: got %d, want 100", snap.Config.TickMs)
	}
	if _, err := uuid.Parse(snap.BootID); err != nil {
		t.Errorf("BootID %q is not a uuid: %v", snap.BootID, err)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if len(snap.Channels) != 0 {
		t.Errorf("expected no channels initially, got %d", len(snap.Channels))
	}
}

func TestBootIDsDiffer(t *testing.T) {
	a := NewTracker(time.Now(), Config{}).Snapshot().BootID
	b := NewTracker(time.Now(), Config{}).Snapshot().BootID
	if a == b {
		t.Errorf("expected distinct boot ids, both %q", a)
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(testChannels(), 61, 610)

	snap := tr.Snapshot()
	if snap.Seconds != 61 || snap.Ticks != 610 {
		t.Errorf("counters: got %d/%d, want 61/610", snap.Seconds, snap.Ticks)
	}
	ch, ok := snap.Channel('T')
	if !ok {
		t.Fatal("channel T missing")
	}
	if ch.Value != 21.5 {
		t.Errorf("Value: got %v, want 21.5", ch.Value)
	}
	if _, ok := snap.Channel('X'); ok {
		t.Error("unexpected channel X")
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(testChannels(), 1, 10)

	snap1 := tr.Snapshot()
	snap1.Channels[0].Name = "changed"
	if tr.Snapshot().Channels[0].Name != "tank" {
		t.Error("mutating a snapshot leaked into the tracker")
	}

	tr.Update(nil, 2, 20)

	if len(snap1.Channels) != 2 {
		t.Error("snapshot should be a copy; channels were replaced")
	}
	if snap1.Seconds != 1 {
		t.Error("snapshot should be a copy; seconds were modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		BootID:        "boot",
		Channels:      testChannels(),
		Seconds:       900,
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{TickMs: 100, HeartbeatMs: 900000, Resolution: "milli", Broker: "tcp://localhost:1883", HTTPAddr: ":80"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, data)
	}

	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.BootID != "boot" {
		t.Errorf("BootID: got %q", parsed.Status.BootID)
	}
	if len(parsed.Status.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(parsed.Status.Channels))
	}
	tank := parsed.Status.Channels[0]
	if tank.Code != "T" || tank.Value != 21.5 || !tank.Power || len(tank.History) != 2 {
		t.Errorf("unexpected tank channel: %+v", tank)
	}
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
}

func TestFormatJSONNaNIsNull(t *testing.T) {
	snap := Snapshot{
		Channels:  testChannels(),
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)
	if !strings.Contains(string(data), `"value": null`) {
		t.Errorf("expected null value for NaN channel:\n%s", data)
	}
}

func TestFloatMarshal(t *testing.T) {
	tests := []struct {
		in   Float
		want string
	}{
		{1.5, "1.5"},
		{0, "0"},
		{Float(0.1), "0.1"},
		{Float(math.Inf(1)), "null"},
		{Float(math.NaN()), "null"},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("Marshal(%v): got %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Channels:      testChannels()[:1],
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{TickMs: 100, Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if strings.Contains(string(data), "\n") {
		t.Error("event payload should be compact")
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"].(map[string]interface{})
	if status["event"] != "SHUTDOWN" || status["reason"] != "SIGTERM" {
		t.Errorf("unexpected event/reason: %v/%v", status["event"], status["reason"])
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 1000 {
			tr.Update(testChannels(), uint64(i), uint64(i*10))
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 1000 {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
