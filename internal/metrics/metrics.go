// Package metrics exposes sampler counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/sensor-sampler/internal/bank"
)

// Metrics holds the sampler collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	reg *prometheus.Registry

	commits       *prometheus.CounterVec
	value         *prometheus.GaugeVec
	power         *prometheus.GaugeVec
	ticks         prometheus.Counter
	publishErrors *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sampler_commits_total",
			Help: "Committed values per channel.",
		}, []string{"channel"}),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sampler_value",
			Help: "Latest committed value per channel, in channel units.",
		}, []string{"channel"}),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sampler_power",
			Help: "Channel power gate (1 sampling, 0 off).",
		}, []string{"channel"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sampler_ticks_total",
			Help: "Scheduler ticks run.",
		}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sampler_publish_errors_total",
			Help: "Failed deliveries per sink.",
		}, []string{"sink"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sampler_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sampler_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.reg.MustRegister(
		m.commits,
		m.value,
		m.power,
		m.ticks,
		m.publishErrors,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Commit records a committed value.
func (m *Metrics) Commit(c bank.Commit) {
	if m == nil {
		return
	}
	ch := string(c.Code)
	m.commits.WithLabelValues(ch).Inc()
	m.value.WithLabelValues(ch).Set(float64(c.Value))
}

// SetPower records a channel's power gate.
func (m *Metrics) SetPower(code byte, on bool) {
	if m == nil {
		return
	}
	v := 0.0
	if on {
		v = 1
	}
	m.power.WithLabelValues(string(code)).Set(v)
}

// Tick counts one scheduler tick.
func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// PublishError counts a failed delivery to sink.
func (m *Metrics) PublishError(sink string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(sink).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their duration under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
