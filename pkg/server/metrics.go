package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the services daemon.
type Metrics struct {
	svc       *Services
	startTime time.Time
	gatherer  prometheus.Gatherer

	commandsTotal      *prometheus.CounterVec
	auditEventsTotal   *prometheus.CounterVec
	pendingTransfers   prometheus.Gauge
	channelsRegistered prometheus.Gauge
	usersOnline        prometheus.Gauge
	uptimeSeconds      prometheus.Gauge
	memoryHeapBytes    prometheus.Gauge
	goroutines         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. g is
// the gatherer served on /metrics; it is normally the same registry.
func NewMetrics(svc *Services, reg prometheus.Registerer, g prometheus.Gatherer, startTime time.Time) *Metrics {
	m := &Metrics{
		svc:       svc,
		startTime: startTime,
		gatherer:  g,
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gochanserv_commands_total",
			Help: "Commands handled, by service, command and outcome.",
		}, []string{"service", "command", "outcome"}),
		auditEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gochanserv_audit_events_total",
			Help: "Audit records written, by action.",
		}, []string{"action"}),
		pendingTransfers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gochanserv_pending_transfers",
			Help: "Channels with an outstanding founder transfer.",
		}),
		channelsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gochanserv_channels_registered",
			Help: "Registered channels.",
		}),
		usersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gochanserv_users_online",
			Help: "Sessions known from the uplink.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gochanserv_uptime_seconds",
			Help: "Daemon uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gochanserv_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gochanserv_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	reg.MustRegister(
		m.commandsTotal,
		m.auditEventsTotal,
		m.pendingTransfers,
		m.channelsRegistered,
		m.usersOnline,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)
	return m
}

// CommandHook returns a command-outcome hook for service.
func (m *Metrics) CommandHook(service string) func(command, outcome string) {
	return func(command, outcome string) {
		m.commandsTotal.WithLabelValues(service, command, outcome).Inc()
	}
}

// AuditHook counts audit records.
func (m *Metrics) AuditHook(e audit.Entry) {
	m.auditEventsTotal.WithLabelValues(e.Action).Inc()
}

// Update refreshes all gauges from current state.
func (m *Metrics) Update() {
	m.pendingTransfers.Set(float64(m.svc.Registry.PendingCount()))
	m.channelsRegistered.Set(float64(m.svc.Registry.Len()))
	m.usersOnline.Set(float64(m.svc.Network.UserCount()))
	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}
