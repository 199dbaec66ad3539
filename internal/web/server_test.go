package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/sensor-sampler/internal/bank"
	"github.com/sweeney/sensor-sampler/internal/metrics"
	"github.com/sweeney/sensor-sampler/internal/sampling"
	"github.com/sweeney/sensor-sampler/internal/status"
)

func testChannels() []sampling.Snapshot {
	return []sampling.Snapshot{
		{Name: "tank", Code: 'T', Value: 21.5, Seconds: 60, Interval: 60, Power: true, History: []float32{21.5}},
		{Name: "probe", Code: 'P', Value: 3.25, Seconds: 30, Interval: 30, Power: true},
	}
}

func newTestTracker() *status.Tracker {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		TickMs:      100,
		HeartbeatMs: 900000,
		Resolution:  "milli",
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":80",
	}
	tr := status.NewTracker(start, cfg)
	tr.Update(testChannels(), 61, 610)
	return tr
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *status.Tracker) {
	t.Helper()
	tr := newTestTracker()
	srv := New(":0", tr, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

// drive applies queued commands to the tracker the way the driver loop does.
func drive(t *testing.T, q *Queue, tr *status.Tracker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-q.C():
				chans := tr.Snapshot().Channels
				found := false
				for i := range chans {
					if chans[i].Code != cmd.Code {
						continue
					}
					found = true
					if cmd.Power != nil {
						chans[i].Power = *cmd.Power
					}
					if cmd.Interval > 0 {
						chans[i].Interval = uint64(cmd.Interval)
					}
				}
				if !found {
					cmd.Done(ErrUnknownChannel)
					continue
				}
				tr.Update(chans, 61, 611)
				cmd.Done(nil)
			}
		}
	}()
}

func put(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, Options{})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if len(sj.Status.Channels) != 2 || sj.Status.Channels[0].Code != "T" {
		t.Errorf("unexpected channels: %+v", sj.Status.Channels)
	}
	if sj.Status.Config.TickMs != 100 {
		t.Errorf("Config.TickMs: got %d, want 100", sj.Status.Config.TickMs)
	}
}

func TestHTMLEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, Options{Hub: NewHub(newTestTracker())})

	for _, path := range []string{"/", "/index.html"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			if err != nil {
				t.Fatalf("GET %s: %v", path, err)
			}
			defer resp.Body.Close()

			if ct := resp.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
				t.Errorf("Content-Type: got %q", ct)
			}
			body, _ := io.ReadAll(resp.Body)
			html := string(body)
			for _, want := range []string{"Sensor Sampler", "tank", "21.50", `id="ch-P"`, "tcp://192.168.1.200:1883", "new WebSocket"} {
				if !strings.Contains(html, want) {
					t.Errorf("HTML missing %q", want)
				}
			}
		})
	}
}

func TestHTMLWithoutHubHasNoScript(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "<script>") {
		t.Error("script should only be rendered when live updates are enabled")
	}
}

func TestUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp, err := http.Post(ts.URL+"/index.json", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestChannelEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	tests := []struct {
		path string
		want int
	}{
		{"/channels/T", http.StatusOK},
		{"/channels/P", http.StatusOK},
		{"/channels/X", http.StatusNotFound},
		{"/channels/TT", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp, err := http.Get(ts.URL + "/channels/T")
	if err != nil {
		t.Fatalf("GET /channels/T: %v", err)
	}
	defer resp.Body.Close()
	var ch status.ChannelJSON
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ch.Name != "tank" || ch.Value != 21.5 || ch.Interval != 60 {
		t.Errorf("unexpected channel: %+v", ch)
	}
}

func TestPowerEndpoint(t *testing.T) {
	q := NewQueue(1)
	ts, tr := newTestServer(t, Options{Controller: q})
	drive(t, q, tr)

	resp := put(t, ts.URL+"/channels/T/power", `{"on": false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var ch status.ChannelJSON
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ch.Power {
		t.Error("expected power off in response")
	}
	if got, _ := tr.Snapshot().Channel('T'); got.Power {
		t.Error("expected power off in tracker")
	}
}

func TestIntervalEndpoint(t *testing.T) {
	q := NewQueue(1)
	ts, tr := newTestServer(t, Options{Controller: q})
	drive(t, q, tr)

	resp := put(t, ts.URL+"/channels/P/interval", `{"seconds": 120}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if got, _ := tr.Snapshot().Channel('P'); got.Interval != 120 {
		t.Errorf("Interval: got %d, want 120", got.Interval)
	}
}

func TestControlErrors(t *testing.T) {
	q := NewQueue(1)
	ts, tr := newTestServer(t, Options{Controller: q})
	drive(t, q, tr)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"power missing field", "/channels/T/power", `{}`, http.StatusBadRequest},
		{"power bad json", "/channels/T/power", `{"on":`, http.StatusBadRequest},
		{"interval zero", "/channels/T/interval", `{"seconds": 0}`, http.StatusBadRequest},
		{"interval negative", "/channels/T/interval", `{"seconds": -5}`, http.StatusBadRequest},
		{"unknown channel", "/channels/X/power", `{"on": true}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := put(t, ts.URL+tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestControlDisabled(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp := put(t, ts.URL+"/channels/T/power", `{"on": true}`)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestQueueGivesUpWithContext(t *testing.T) {
	q := NewQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.SetPower(ctx, 'T', true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Tick()
	ts, _ := newTestServer(t, Options{Metrics: m})

	if resp, err := http.Get(ts.URL + "/index.json"); err == nil {
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"sampler_ticks_total 1", `sampler_http_requests_total{route="/index.json",status="200"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestWebSocket(t *testing.T) {
	tr := newTestTracker()
	hub := NewHub(tr)
	srv := New(":0", tr, Options{Hub: hub})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var init struct {
		Type string             `json:"type"`
		Data status.StatusInner `json:"data"`
	}
	if err := conn.ReadJSON(&init); err != nil {
		t.Fatalf("read state_init: %v", err)
	}
	if init.Type != "state_init" {
		t.Errorf("type: got %q, want state_init", init.Type)
	}
	if len(init.Data.Channels) != 2 {
		t.Errorf("expected 2 channels in state_init, got %d", len(init.Data.Channels))
	}
	if hub.Len() != 1 {
		t.Errorf("expected 1 client, got %d", hub.Len())
	}

	hub.BroadcastCommit(bank.Commit{Code: 'T', Name: "tank", Value: 22.25, Raw: 1900, Seconds: 120, Timestamp: time.Now()})

	var reading struct {
		Type string      `json:"type"`
		Data readingJSON `json:"data"`
	}
	if err := conn.ReadJSON(&reading); err != nil {
		t.Fatalf("read reading: %v", err)
	}
	if reading.Type != "reading" || reading.Data.Code != "T" || reading.Data.Value != 22.25 {
		t.Errorf("unexpected reading: %+v", reading)
	}
}
