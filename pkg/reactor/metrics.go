package reactor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace is the leading part of all published metrics.
const namespace = "ktls"

const reactorSubsystem = "reactor" // sub-system associated with the connection reactor.

// Handshake and offload result label values.
const (
	resultOK          = "ok"
	resultFailed      = "failed"
	resultPeerClosed  = "peer_closed"
	resultTimeout     = "timeout"
	resultRejected    = "rejected"
	resultUnsupported = "unsupported"
)

// Metrics are the reactor's prometheus collectors. A Metrics value may be
// shared by several reactors in one process.
type Metrics struct {
	// These metrics have a "result" label.
	Handshakes *prometheus.CounterVec // Completed or abandoned handshakes.
	Offloads   *prometheus.CounterVec // Kernel hand-off attempts.

	HandshakeDuration prometheus.Histogram // Time from accept to handshake completion.
	Connections       prometheus.Gauge     // Established connections.
	Messages          prometheus.Counter   // Plaintext messages delivered to the handler.
	BytesWritten      prometheus.Counter   // Bytes written through the kernel record layer.
	BytesTransferred  prometheus.Counter   // Bytes sent with sendfile.
	HandlerPanics     prometheus.Counter   // Handler invocations that panicked.
	AcceptPauses      prometheus.Counter   // Times accepting was paused for resource limits.
}

// NewMetrics initialises the reactor collectors. labels are attached to
// every metric as constant labels.
func NewMetrics(labels prometheus.Labels) *Metrics {
	return &Metrics{
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   reactorSubsystem,
			Name:        "handshakes_total",
			Help:        "Total number of TLS handshakes by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		Offloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   reactorSubsystem,
			Name:        "offloads_total",
			Help:        "Total number of kernel TLS hand-offs by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   reactorSubsystem,
			Name:        "handshake_duration_seconds",
			Help:        "Time taken by successful handshakes.",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 12),
			ConstLabels: labels,
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   reactorSubsystem,
			Name:        "connections",
			Help:        "Number of established connections.",
			ConstLabels: labels,
		}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   reactorSubsystem,
			Name:        "messages_total",
			Help:        "Total number of messages delivered to the handler.",
			ConstLabels: labels,
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   reactorSubsystem,
			Name:        "written_bytes_total",
			Help:        "Total bytes written for kernel encryption.",
			ConstLabels: labels,
		}),
		BytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   reactorSubsystem,
			Name:        "transferred_bytes_total",
			Help:        "Total bytes sent with zero-copy file transfer.",
			ConstLabels: labels,
		}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   reactorSubsystem,
			Name:        "handler_panics_total",
			Help:        "Total number of recovered handler panics.",
			ConstLabels: labels,
		}),
		AcceptPauses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   reactorSubsystem,
			Name:        "accept_pauses_total",
			Help:        "Total number of times accepting was paused.",
			ConstLabels: labels,
		}),
	}
}

// PrometheusCollectors returns all collectors for registration.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Handshakes,
		m.Offloads,
		m.HandshakeDuration,
		m.Connections,
		m.Messages,
		m.BytesWritten,
		m.BytesTransferred,
		m.HandlerPanics,
		m.AcceptPauses,
	}
}
