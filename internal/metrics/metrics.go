// Package metrics exposes Prometheus counters for capture, certificate and
// replay activity. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "trafficlab"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	packetsTotal  *prometheus.CounterVec
	bytesTotal    *prometheus.CounterVec
	eventsTotal   *prometheus.CounterVec
	parserSkipped prometheus.Counter
	sessionsTotal *prometheus.CounterVec
	liveSessions  prometheus.Gauge

	certOpsTotal *prometheus.CounterVec

	replaysTotal   *prometheus.CounterVec
	replayDuration *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_packets_total",
			Help:      "Parsed HTTP records, counted regardless of filter or pause state",
		}, []string{"tool"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_bytes_total",
			Help:      "Bytes attributed to parsed HTTP records",
		}, []string{"tool"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_events_total",
			Help:      "Parsed events by delivery outcome",
		}, []string{"outcome"}), // emitted, filtered, paused
		parserSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_parser_skipped_total",
			Help:      "Malformed records dropped by the stream parser",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_session_transitions_total",
			Help:      "Capture session state transitions",
		}, []string{"status"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_live_sessions",
			Help:      "Sessions currently active or paused",
		}),

		certOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cert_operations_total",
			Help:      "Certificate authority operations",
		}, []string{"op", "result"}),

		replaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_total",
			Help:      "Replay attempts by target and result",
		}, []string{"target", "result"}),
		replayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replay_duration_seconds",
			Help:      "Replay round-trip latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"target"}),

		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Side-channel HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Side-channel HTTP latency",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path"}),
	}

	m.registry.MustRegister(
		m.packetsTotal, m.bytesTotal, m.eventsTotal, m.parserSkipped,
		m.sessionsTotal, m.liveSessions, m.certOpsTotal,
		m.replaysTotal, m.replayDuration,
		m.httpRequestsTotal, m.httpRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// PacketParsed records one parsed HTTP record.
func (m *Metrics) PacketParsed(tool string, bytes int) {
	if m == nil {
		return
	}
	m.packetsTotal.WithLabelValues(tool).Inc()
	if bytes > 0 {
		m.bytesTotal.WithLabelValues(tool).Add(float64(bytes))
	}
}

// EventOutcome records what happened to a parsed event.
func (m *Metrics) EventOutcome(outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(outcome).Inc()
}

// ParserSkipped adds dropped malformed records.
func (m *Metrics) ParserSkipped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.parserSkipped.Add(float64(n))
}

// SessionTransition records a session state change and the live count.
func (m *Metrics) SessionTransition(status string, live int) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(status).Inc()
	m.liveSessions.Set(float64(live))
}

// CertOperation records a certificate authority operation.
func (m *Metrics) CertOperation(op string, err error) {
	if m == nil {
		return
	}
	m.certOpsTotal.WithLabelValues(op, resultLabel(err == nil)).Inc()
}

// ReplayCompleted records a replay attempt.
func (m *Metrics) ReplayCompleted(target string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.replaysTotal.WithLabelValues(target, resultLabel(success)).Inc()
	m.replayDuration.WithLabelValues(target).Observe(d.Seconds())
}

// GinMiddleware records request counts and latency per route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
