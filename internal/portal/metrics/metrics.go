// Package metrics defines Prometheus metrics for the portal.
//
// Metric naming follows Prometheus conventions:
//   - railportal_ prefix for all custom metrics
//   - _total suffix for counters
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WebsocketClients is the number of connected dashboard clients.
	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "railportal_websocket_clients",
			Help: "Number of connected dashboard WebSocket clients.",
		},
	)

	// AlertsCreatedTotal counts alerts created, by severity.
	AlertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "railportal_alerts_created_total",
			Help: "Total alerts created, by severity.",
		},
		[]string{"severity"},
	)

	// AlertStatusChangesTotal counts alert status transitions, by new status.
	AlertStatusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "railportal_alert_status_changes_total",
			Help: "Total alert status transitions, by new status.",
		},
		[]string{"status"},
	)

	// BroadcastsTotal counts hub broadcasts, by message type.
	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "railportal_broadcasts_total",
			Help: "Total WebSocket broadcasts, by message type.",
		},
		[]string{"type"},
	)

	// HTTPRequestsTotal counts API requests, by method and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "railportal_http_requests_total",
			Help: "Total HTTP requests, by method and status class.",
		},
		[]string{"method", "class"},
	)

	// LoginsTotal counts successful OTP logins.
	LoginsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "railportal_logins_total",
			Help: "Total successful OTP logins.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WebsocketClients,
		AlertsCreatedTotal,
		AlertStatusChangesTotal,
		BroadcastsTotal,
		HTTPRequestsTotal,
		LoginsTotal,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAlertCreated records one created alert.
func RecordAlertCreated(severity string) {
	AlertsCreatedTotal.WithLabelValues(severity).Inc()
}

// RecordAlertStatusChange records one alert status transition.
func RecordAlertStatusChange(status string) {
	AlertStatusChangesTotal.WithLabelValues(status).Inc()
}

// RecordBroadcast records one hub broadcast.
func RecordBroadcast(msgType string) {
	BroadcastsTotal.WithLabelValues(msgType).Inc()
}

// SetWebsocketClients records the current client count.
func SetWebsocketClients(n int) {
	WebsocketClients.Set(float64(n))
}
