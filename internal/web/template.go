package web

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"time"

	"github.com/sweeney/sensor-sampler/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"value": func(v float32) string {
		if math.IsNaN(float64(v)) {
			return "n/a"
		}
		return fmt.Sprintf("%.2f", v)
	},
	"code": func(c byte) string { return string(c) },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sensor Sampler</title>
<style>
body { font-family: monospace; max-width: 760px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Sensor Sampler{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Channels</h2>
<table>
<tr><th>Code</th><th>Name</th><th>Value</th><th>At</th><th>Every</th><th>Power</th></tr>
{{range .Channels}}<tr id="ch-{{code .Code}}">
<td>{{code .Code}}</td>
<td>{{.Name}}</td>
<td class="value">{{value .Value}}</td>
<td class="at">{{.Seconds}}s</td>
<td>{{.Interval}}s</td>
<td class="{{if .Power}}on{{else}}off{{end}}">{{if .Power}}on{{else}}off{{end}}</td>
</tr>
{{else}}<tr><td colspan="6">no channels</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Boot</th><td>{{.BootID}}</td></tr>
<tr><th>Scheduler</th><td>{{.Seconds}}s, {{.Ticks}} ticks</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms ({{.Config.Resolution}})</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type !== "reading") return;
        var row = document.getElementById("ch-" + msg.data.code);
        if (!row) return;
        var v = msg.data.value;
        row.querySelector(".value").textContent = v === null ? "n/a" : v.toFixed(2);
        row.querySelector(".at").textContent = msg.data.seconds + "s";
      } catch (e) {}
    };
  }

  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Live   bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Live:     live,
	}
	indexTmpl.Execute(w, data)
}
