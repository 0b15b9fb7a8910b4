package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "addonhost"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Add-on lifecycle metrics
	InstallAttempts *prometheus.CounterVec
	AddonsLoaded    prometheus.Gauge
	LoadFailures    prometheus.Counter
	LoadDuration    prometheus.Histogram
	AddonsStaged    prometheus.Gauge

	// Store client metrics
	StoreRequests *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for the JSON health endpoint
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON API
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	AverageLatencyMS  float64 `json:"average_latency_ms"`
	LoadedAddons      int64   `json:"loaded_addons"`
	StagedAddons      int64   `json:"staged_addons"`
	ActiveConnections int64   `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics registers every collector on reg. A nil reg gets a fresh
// registry so parallel tests never collide.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &Metrics{registry: reg, startTime: time.Now()}

	m.RequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	m.RequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})
	m.RequestSize = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_size_bytes",
		Help:      "HTTP request size in bytes",
		Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000, 50000000},
	}, []string{"method", "path"})
	m.ResponseSize = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
	}, []string{"method", "path"})

	m.InstallAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "addon_install_attempts_total",
		Help: "Finished install attempts by outcome",
	}, []string{"outcome"})
	m.AddonsLoaded = factory.NewGauge(prometheus.GaugeOpts{
		Name: "addon_loaded",
		Help: "Number of add-ons currently loaded",
	})
	m.LoadFailures = factory.NewCounter(prometheus.CounterOpts{
		Name: "addon_load_failures_total",
		Help: "Add-on loads that failed to resolve or initialize",
	})
	m.LoadDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "addon_load_duration_seconds",
		Help:    "Time to resolve and initialize an add-on module",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})
	m.AddonsStaged = factory.NewGauge(prometheus.GaugeOpts{
		Name: "addon_staged",
		Help: "Number of packages awaiting consent",
	})

	m.StoreRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "addon_store_requests_total",
		Help: "Remote store requests by operation and status",
	}, []string{"op", "status"})
	m.StoreDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "addon_store_request_duration_seconds",
		Help:    "Remote store request duration in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})

	m.WSConnections = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
	m.WSMessages = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_messages_total",
		Help:      "Total number of WebSocket messages",
	}, []string{"direction", "type"})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Service uptime in seconds",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns current values
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	if s.TotalRequests > 0 {
		s.AverageLatencyMS = s.totalDuration / float64(s.TotalRequests) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
