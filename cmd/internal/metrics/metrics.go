// Package metrics exposes relay counters on a private Prometheus registry.
//
// Every method is safe on a nil *Metrics so callers never need to guard.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics holds all relay collectors.
type Metrics struct {
	reg *prometheus.Registry

	connections     prometheus.Gauge
	sessions        prometheus.Gauge
	frames          *prometheus.CounterVec
	published       *prometheus.CounterVec
	dropped         prometheus.Counter
	persistFailures prometheus.Counter
	rateLimited     prometheus.Counter
	uploads         *prometheus.CounterVec
	uploadBytes     prometheus.Histogram
	storeOps        *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Open websocket connections.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions",
			Help: "Authenticated participants in the session registry.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Inbound frames by type.",
		}, []string{"type"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_published_total",
			Help: "Messages accepted by the broadcaster by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_dropped_total",
			Help: "Frames not enqueued because a client queue was full or closed.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "history_persist_failures_total",
			Help: "History appends that could not be written.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Inbound frames rejected by the per-connection rate limiter.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "uploads_total",
			Help: "Media uploads by result.",
		}, []string{"result"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "upload_bytes",
			Help:    "Decoded size of uploaded media.",
			Buckets: prometheus.ExponentialBuckets(1<<10, 4, 8),
		}),
		storeOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "store_op_seconds",
			Help:    "Blob store call latency by operation and result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "result"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections, m.sessions, m.frames, m.published, m.dropped,
		m.persistFailures, m.rateLimited, m.uploads, m.uploadBytes, m.storeOps,
	)
	return m
}

// Registry returns the underlying registry (tests and custom exporters).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// SetSessions records the registry size.
func (m *Metrics) SetSessions(n int) {
	if m != nil {
		m.sessions.Set(float64(n))
	}
}

// FrameReceived counts one inbound frame. The label is limited to the known frame types; anything
// else a client sends is counted as "invalid".
func (m *Metrics) FrameReceived(typ string) {
	if m == nil {
		return
	}
	switch typ {
	case "auth", "message":
	default:
		typ = "invalid"
	}
	m.frames.WithLabelValues(typ).Inc()
}

func (m *Metrics) Published(kind string) {
	if m != nil {
		m.published.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) DeliveryDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) HistoryPersistFailed() {
	if m != nil {
		m.persistFailures.Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

// Upload records one upload attempt. size is ignored for failures.
func (m *Metrics) Upload(err error, size int) {
	if m == nil {
		return
	}
	if err != nil {
		m.uploads.WithLabelValues("error").Inc()
		return
	}
	m.uploads.WithLabelValues("ok").Inc()
	m.uploadBytes.Observe(float64(size))
}

// ObserveStoreOp matches blobstore.Observer.
func (m *Metrics) ObserveStoreOp(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeOps.WithLabelValues(op, result).Observe(elapsed.Seconds())
}
