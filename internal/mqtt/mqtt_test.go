package mqtt

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/sensor-sampler/internal/bank"
)

func testCommit() bank.Commit {
	return bank.Commit{
		Code:      'T',
		Name:      "tank",
		Value:     21.5,
		Raw:       1843,
		Seconds:   120,
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
	}
}

func TestFormatPayload(t *testing.T) {
	payload, err := FormatPayload(testCommit())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Reading.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("unexpected timestamp: %s", parsed.Reading.Timestamp)
	}
	if parsed.Reading.Code != "T" {
		t.Errorf("unexpected code: %s", parsed.Reading.Code)
	}
	if parsed.Reading.Value == nil || *parsed.Reading.Value != 21.5 {
		t.Errorf("unexpected value: %v", parsed.Reading.Value)
	}
	if parsed.Reading.Seconds != 120 {
		t.Errorf("unexpected seconds: %d", parsed.Reading.Seconds)
	}
}

func TestFormatPayloadExactJSON(t *testing.T) {
	payload, err := FormatPayload(testCommit())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"reading":{"timestamp":"2026-02-02T22:18:12Z","code":"T","name":"tank","value":21.5,"raw":1843,"seconds":120}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatPayloadNaNValue(t *testing.T) {
	c := testCommit()
	c.Value = float32(math.NaN())

	payload, err := FormatPayload(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Reading.Value != nil {
		t.Errorf("expected null value, got %v", *parsed.Reading.Value)
	}
}

func TestTopics(t *testing.T) {
	if TopicReadings != "sensors/sampler/readings" {
		t.Errorf("unexpected topic: %s", TopicReadings)
	}
	if TopicSystem != "sensors/sampler/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     EventShutdown,
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"custom":true}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: EventStartup, RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestWillPayload(t *testing.T) {
	var parsed SystemPayload
	if err := json.Unmarshal(willPayload(), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Event != EventShutdown || parsed.System.Reason != "MQTT_DISCONNECT" {
		t.Errorf("unexpected will: %+v", parsed.System)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	if err := f.Publish(testCommit()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Commits) != 1 || f.Commits[0].Code != 'T' {
		t.Fatalf("unexpected commits: %+v", f.Commits)
	}
	if len(f.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(f.Payloads))
	}

	f.PublishError = errors.New("simulated error")
	if err := f.Publish(testCommit()); err == nil {
		t.Error("expected error")
	}
	if len(f.Commits) != 1 {
		t.Errorf("expected no commits recorded on error, got %d", len(f.Commits))
	}

	f.PublishSystem(SystemEvent{Event: EventHeartbeat})
	if names := f.SystemEventNames(); len(names) != 1 || names[0] != EventHeartbeat {
		t.Errorf("unexpected system events: %v", names)
	}

	f.Close()
	f.Reset()
	if len(f.Commits) != 0 || len(f.SystemEvents) != 0 || f.Closed || f.PublishError != nil {
		t.Error("reset should clear everything")
	}
}

// fakeClient is the part of paho.Client a RealPublisher uses.
type fakeClient struct {
	paho.Client

	mu        sync.Mutex
	open      bool
	err       error
	published []bufferedMsg
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return doneToken{err: c.err}
	}
	c.published = append(c.published, bufferedMsg{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.published))
	for i, m := range c.published {
		out[i] = m.topic
	}
	return out
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestRealPublisherConnected(t *testing.T) {
	client := &fakeClient{open: true}
	p := newPublisher(client, 4)

	if err := p.Publish(testCommit()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.PublishSystem(SystemEvent{Event: EventHeartbeat, Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.published) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(client.published))
	}
	if m := client.published[0]; m.topic != TopicReadings || m.qos != 0 || m.retained {
		t.Errorf("unexpected reading message: %+v", m)
	}
	if m := client.published[1]; m.topic != TopicSystem || m.qos != 1 || !m.retained {
		t.Errorf("unexpected system message: %+v", m)
	}
	if !p.IsConnected() {
		t.Error("expected connected")
	}
}

func TestRealPublisherBuffersWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, 4)

	for range 2 {
		if err := p.Publish(testCommit()); err != nil {
			t.Fatalf("buffered publish should not fail: %v", err)
		}
	}
	if p.Buffered() != 2 {
		t.Fatalf("expected 2 buffered, got %d", p.Buffered())
	}
	if len(client.published) != 0 {
		t.Fatal("nothing should reach the client while disconnected")
	}

	// First connection: replay only.
	client.open = true
	p.onConnect()
	if got := client.topics(); len(got) != 2 {
		t.Fatalf("expected 2 replayed messages, got %v", got)
	}
	if p.Buffered() != 0 {
		t.Errorf("buffer should be empty after replay, got %d", p.Buffered())
	}

	// Reconnection: replay then announce.
	client.open = false
	p.Publish(testCommit())
	client.open = true
	p.onConnect()

	got := client.topics()
	want := []string{TopicReadings, TopicReadings, TopicReadings, TopicSystem}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d: got %s, want %s", i, got[i], want[i])
		}
	}

	var parsed SystemPayload
	json.Unmarshal(client.published[3].payload, &parsed)
	if parsed.System.Event != EventReconnected {
		t.Errorf("expected RECONNECTED, got %s", parsed.System.Event)
	}
}

func TestRealPublisherErrorBuffers(t *testing.T) {
	client := &fakeClient{open: true, err: errors.New("broker said no")}
	p := newPublisher(client, 4)

	if err := p.Publish(testCommit()); err == nil {
		t.Fatal("expected error")
	}
	if p.Buffered() != 1 {
		t.Errorf("failed message should be buffered, got %d", p.Buffered())
	}

	client.err = nil
	p.onConnect()
	if len(client.published) != 1 {
		t.Errorf("expected failed message replayed, got %d", len(client.published))
	}
}

func TestRealPublisherReplayFailureRebuffers(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, 4)
	p.Publish(testCommit())
	p.Publish(testCommit())

	client.open = true
	client.err = errors.New("still flaky")
	p.onConnect()

	if p.Buffered() != 2 {
		t.Errorf("unsent messages should be buffered again, got %d", p.Buffered())
	}
}

func TestRealPublisherClose(t *testing.T) {
	client := &fakeClient{open: true}
	p := newPublisher(client, 1)
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.IsConnected() {
		t.Error("expected disconnected after close")
	}
}
