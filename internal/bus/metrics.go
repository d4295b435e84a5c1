package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks bus throughput per channel and outcome.
type Metrics struct {
	inbound    *prometheus.CounterVec
	outbound   *prometheus.CounterVec
	processing *prometheus.HistogramVec
}

// NewMetrics registers the bus metrics on reg. A nil registerer falls
// back to the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crosswire",
			Subsystem: "bus",
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by channel and final processing status.",
		}, []string{"channel", "status"}),
		outbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crosswire",
			Subsystem: "bus",
			Name:      "outbound_messages_total",
			Help:      "Outbound messages by channel and final processing status.",
		}, []string{"channel", "status"}),
		processing: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crosswire",
			Subsystem: "bus",
			Name:      "processing_seconds",
			Help:      "Middleware chain latency by direction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
	}
}
