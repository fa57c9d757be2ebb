// Package metrics exposes the server's Prometheus instrumentation. It is
// pure observability: nothing here participates in the append/read/wait
// control flow or error paths (spec §4.K).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and gauges the HTTP adapter updates as it
// serves requests.
type Metrics struct {
	registry *prometheus.Registry

	AppendsTotal    *prometheus.CounterVec
	ReadsTotal      *prometheus.CounterVec
	ActiveWaiters   prometheus.Gauge
	Streams         prometheus.Gauge
}

// New constructs a Metrics instance registered on a private registry (not
// the global default one, so multiple servers in the same process - e.g. in
// tests - don't collide on registration).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		AppendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "durablestreams_appends_total",
			Help: "Append attempts by outcome.",
		}, []string{"result"}),
		ReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "durablestreams_reads_total",
			Help: "Reads by mode.",
		}, []string{"mode"}),
		ActiveWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "durablestreams_active_waiters",
			Help: "Number of long-poll/SSE requests currently blocked waiting for new data.",
		}),
		Streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "durablestreams_streams",
			Help: "Number of streams currently known to the store (best-effort, not expiry-corrected).",
		}),
	}

	reg.MustRegister(m.AppendsTotal, m.ReadsTotal, m.ActiveWaiters, m.Streams)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WaiterStarted/WaiterFinished track in-flight long-poll/SSE requests.
func (m *Metrics) WaiterStarted() { m.ActiveWaiters.Inc() }
func (m *Metrics) WaiterFinished() { m.ActiveWaiters.Dec() }
