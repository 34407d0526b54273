// Package metrics provides Prometheus metrics for the admin backend.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// HTTP API metrics.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mqadmin",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of API requests handled.",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mqadmin",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
	HTTPRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mqadmin",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Total number of requests rejected by the rate limiter.",
	})

	// Telemetry subscription metrics.
	TelemetryUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mqadmin",
		Subsystem: "telemetry",
		Name:      "updates_total",
		Help:      "Gauge updates received from the broker $SYS tree.",
	}, []string{"gauge"})
	TelemetryUserMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mqadmin",
		Subsystem: "telemetry",
		Name:      "user_messages_total",
		Help:      "Non-system messages observed on the broker.",
	})
	TelemetryConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mqadmin",
		Subsystem: "telemetry",
		Name:      "broker_connected",
		Help:      "Whether the broker telemetry session is up (1) or not (0).",
	})

	// Statistics store metrics.
	StoreOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mqadmin",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Statistics store operations by kind and outcome.",
	}, []string{"op", "outcome"})

	// Broker control metrics.
	CtrlCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mqadmin",
		Subsystem: "ctrl",
		Name:      "commands_total",
		Help:      "mosquitto_ctrl invocations by command and outcome.",
	}, []string{"command", "outcome"})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRateLimited,

		TelemetryUpdatesTotal,
		TelemetryUserMessages,
		TelemetryConnected,

		StoreOperationsTotal,
		CtrlCommandsTotal,
	)
}

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)
