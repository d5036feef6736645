// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChannelConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_channel_connected",
			Help: "Whether a realtime channel is currently connected (1) or not (0)",
		},
		[]string{"channel"},
	)

	ChannelReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_channel_reconnects_total",
			Help: "Total number of reconnect attempts per channel",
		},
		[]string{"channel"},
	)

	NotificationsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_emitted_total",
			Help: "Total number of new notifications surfaced, by kind",
		},
		[]string{"kind"},
	)

	NegotiationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_outcomes_total",
			Help: "Total number of negotiations reaching a terminal state",
		},
		[]string{"outcome"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "api_request_duration_seconds",
			Help: "Duration of backend REST requests in seconds",
		},
		[]string{"endpoint", "status"},
	)
)
