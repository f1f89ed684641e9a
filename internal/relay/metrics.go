package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts dispatch outcomes per webhook source.
type Metrics struct {
	// Requests counts dispatches by source ("remnawave", "alert", "stripe")
	// and outcome ("ok", "ignored", "rejected", "failed").
	Requests *prometheus.CounterVec

	// DeliveryFailures counts failed sends to the delivery sink.
	DeliveryFailures *prometheus.CounterVec
}

// NewMetrics registers the relay counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Webhook dispatches by source and outcome.",
		}, []string{"source", "outcome"}),
		DeliveryFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_delivery_failures_total",
			Help: "Failed sends to the delivery sink by source.",
		}, []string{"source"}),
	}
}
