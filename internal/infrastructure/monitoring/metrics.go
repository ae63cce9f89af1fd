package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/termgate/internal/domain/bridge"
	"github.com/GriffinCanCode/termgate/internal/domain/notify"
	"github.com/GriffinCanCode/termgate/internal/domain/reconcile"
	"github.com/GriffinCanCode/termgate/internal/gateway"
	"github.com/GriffinCanCode/termgate/internal/protocol"
)

const namespace = "termgate"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Gateway metrics
	SessionsActive   prometheus.Gauge
	ChannelEvents    *prometheus.CounterVec
	ChannelConnected prometheus.Gauge
	PollTotal        *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	DroppedOutput    prometheus.Counter

	// Viewer metrics
	ViewerConnections prometheus.Gauge

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON health endpoint
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ActiveSessions int64   `json:"active_sessions"`
	Connected      bool    `json:"connected"`
	DroppedOutput  int64   `json:"dropped_output"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector backed by its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of registered terminal sessions",
			},
		),
		ChannelEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_events_total",
				Help:      "Events exchanged over the backend channel",
			},
			[]string{"direction", "event"},
		),
		ChannelConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "channel_connected",
				Help:      "1 while the backend channel is open",
			},
		),
		PollTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_total",
				Help:      "Collection polls by outcome",
			},
			[]string{"collection", "status"},
		),
		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications raised by kind",
			},
			[]string{"kind"},
		),
		DroppedOutput: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_output_total",
				Help:      "Output frames dropped for unknown sessions",
			},
		),
		ViewerConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "viewer_connections",
				Help:      "Number of attached terminal viewers",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Gateway uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SetSessionsActive sets the number of registered sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// RecordEvent counts one channel event
func (m *Metrics) RecordEvent(direction bridge.Direction, event protocol.Event) {
	m.ChannelEvents.WithLabelValues(string(direction), string(event)).Inc()
}

// SetConnected records the channel state
func (m *Metrics) SetConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.ChannelConnected.Set(v)
	m.mu.Lock()
	m.snapshot.Connected = connected
	m.mu.Unlock()
}

// RecordPoll counts one collection poll
func (m *Metrics) RecordPoll(col reconcile.Collection, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PollTotal.WithLabelValues(string(col), status).Inc()
}

// RecordNotification counts a raised notification
func (m *Metrics) RecordNotification(n notify.Notification) {
	m.Notifications.WithLabelValues(n.Kind.String()).Inc()
}

// IncDropped counts a dropped output frame
func (m *Metrics) IncDropped() {
	m.DroppedOutput.Inc()
	m.mu.Lock()
	m.snapshot.DroppedOutput++
	m.mu.Unlock()
}

// IncViewers increments attached viewers
func (m *Metrics) IncViewers() {
	m.ViewerConnections.Inc()
}

// DecViewers decrements attached viewers
func (m *Metrics) DecViewers() {
	m.ViewerConnections.Dec()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// GatewayHooks binds the gateway telemetry hooks to these metrics
func (m *Metrics) GatewayHooks() gateway.Hooks {
	return gateway.Hooks{
		Sessions:     m.SetSessionsActive,
		Event:        m.RecordEvent,
		Dropped:      m.IncDropped,
		Poll:         m.RecordPoll,
		Notification: m.RecordNotification,
	}
}
