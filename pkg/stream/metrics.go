package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

var metricsNamespace = "cbadv"
var metricsSubsystem = "stream"

// Metrics holds the client's prometheus collectors.
type Metrics struct {
	framesReceived *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	sequenceGaps   prometheus.Counter
	exchangeErrors prometheus.Counter
	resubscribes   prometheus.Counter
	subscriptions  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_received_total",
			Help:      "Inbound frames routed per channel.",
		}, []string{"channel"}),

		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a subscription queue was full.",
		}, []string{"channel"}),

		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frames_sent_total",
			Help:      "Subscribe and unsubscribe frames sent.",
		}, []string{"channel", "type"}),

		sequenceGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sequence_gaps_total",
			Help:      "Inbound frames whose sequence number skipped ahead.",
		}),

		exchangeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "exchange_errors_total",
			Help:      "Error frames received from the exchange.",
		}),

		resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "resubscribes_total",
			Help:      "Registry entries replayed after a reconnect.",
		}),

		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "subscriptions",
			Help:      "Entries in the subscription registry.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.framesReceived,
			m.framesDropped,
			m.framesSent,
			m.sequenceGaps,
			m.exchangeErrors,
			m.resubscribes,
			m.subscriptions,
		)
	}
	return m
}
