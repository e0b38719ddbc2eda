package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the bridge's Prometheus metrics.
//
// Tracked concerns:
//   - Outbound messages to HomeChat by operation and status
//   - Inbound webhook deliveries by outcome
//   - Coordinator poll results and the current server status
//   - Dispatch operation invocations and validation rejections
type Metrics struct {
	// MessagesSent counts outbound messages.
	// Labels: operation (send_message|send_dm|channel_message|media), status (success|error)
	MessagesSent *prometheus.CounterVec

	// WebhookDeliveries counts inbound webhook requests.
	// Labels: outcome (accepted|invalid_signature|malformed|oversized)
	WebhookDeliveries *prometheus.CounterVec

	// PollResults counts coordinator refresh outcomes.
	// Labels: result (online|offline|auth_failed|error)
	PollResults *prometheus.CounterVec

	// ServerStatus is the current server status as a one-hot gauge.
	// Labels: status (unknown|online|offline|auth_failed|error)
	ServerStatus *prometheus.GaugeVec

	// ChannelCount is the number of channels in the last good snapshot.
	ChannelCount prometheus.Gauge

	// DispatchOperations counts dispatch invocations.
	// Labels: operation, status (success|error|rejected)
	DispatchOperations *prometheus.CounterVec

	// RequestDuration measures HomeChat API request latency in seconds.
	// Labels: operation
	RequestDuration *prometheus.HistogramVec

	// BusEvents counts events published on the internal bus.
	// Labels: event
	BusEvents *prometheus.CounterVec
}

// NewMetrics creates and registers all bridge metrics with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a private
// registry so parallel tests do not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homechat_messages_sent_total",
				Help: "Outbound messages to HomeChat by operation and status",
			},
			[]string{"operation", "status"},
		),

		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homechat_webhook_deliveries_total",
				Help: "Inbound webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),

		PollResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homechat_poll_results_total",
				Help: "Coordinator refresh outcomes",
			},
			[]string{"result"},
		),

		ServerStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "homechat_server_status",
				Help: "Current HomeChat server status (one-hot by status label)",
			},
			[]string{"status"},
		),

		ChannelCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "homechat_channel_count",
				Help: "Channels in the last successful snapshot",
			},
		),

		DispatchOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homechat_dispatch_operations_total",
				Help: "Dispatch operation invocations by status",
			},
			[]string{"operation", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "homechat_request_duration_seconds",
				Help:    "HomeChat API request latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"operation"},
		),

		BusEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homechat_bus_events_total",
				Help: "Events published on the internal bus",
			},
			[]string{"event"},
		),
	}
}

// SetServerStatus flips the one-hot status gauge to the given status.
func (m *Metrics) SetServerStatus(status string) {
	if m == nil || m.ServerStatus == nil {
		return
	}
	for _, s := range []string{"unknown", "online", "offline", "auth_failed", "error"} {
		value := 0.0
		if s == status {
			value = 1.0
		}
		m.ServerStatus.WithLabelValues(s).Set(value)
	}
}
