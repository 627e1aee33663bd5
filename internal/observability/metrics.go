package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"gateway", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"gateway", "method", "route", "status"},
	)
	commandRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simlink",
			Subsystem: "command",
			Name:      "requests_total",
			Help:      "Command channel requests by opcode and outcome.",
		},
		[]string{"gateway", "opcode", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simlink",
			Subsystem: "command",
			Name:      "dispatch_duration_seconds",
			Help:      "Command dispatch duration in seconds, reply included.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"gateway", "opcode"},
	)
	telemetryDatagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simlink",
			Subsystem: "telemetry",
			Name:      "datagrams_total",
			Help:      "Telemetry datagrams by direction and outcome.",
		},
		[]string{"gateway", "direction", "outcome"},
	)
	connectedClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "simlink",
			Subsystem: "command",
			Name:      "connected_clients",
			Help:      "Open command channel connections.",
		},
		[]string{"gateway"},
	)
	simFrame = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "simlink",
			Subsystem: "sim",
			Name:      "frame",
			Help:      "Current simulation frame.",
		},
		[]string{"gateway"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			commandRequests, commandDuration,
			telemetryDatagrams, connectedClients, simFrame,
		)
	})
}

func RecordHTTPRequest(gatewayID, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(gatewayID, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(gatewayID, method, route, statusLabel).Observe(duration.Seconds())
}

// RecordCommand counts one dispatched request. outcome is ok, error or
// dropped.
func RecordCommand(gatewayID, opcode, outcome string, duration time.Duration) {
	RegisterMetrics()
	commandRequests.WithLabelValues(gatewayID, opcode, outcome).Inc()
	commandDuration.WithLabelValues(gatewayID, opcode).Observe(duration.Seconds())
}

// RecordTelemetry counts datagrams; direction is in or out.
func RecordTelemetry(gatewayID, direction, outcome string, n int) {
	RegisterMetrics()
	telemetryDatagrams.WithLabelValues(gatewayID, direction, outcome).Add(float64(n))
}

func SetConnectedClients(gatewayID string, n int) {
	RegisterMetrics()
	connectedClients.WithLabelValues(gatewayID).Set(float64(n))
}

func SetFrame(gatewayID string, frame int64) {
	RegisterMetrics()
	simFrame.WithLabelValues(gatewayID).Set(float64(frame))
}
