package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	namespace = "realtime_service"
)

// Metrics holds all application metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSActiveConnections   prometheus.Gauge
	WSConnectionsTotal    prometheus.Counter
	WSHandshakeFailures   *prometheus.CounterVec
	ClientCommandsTotal   *prometheus.CounterVec
	PresenceStoreErrors   *prometheus.CounterVec
	BridgeEventsTotal     *prometheus.CounterVec
	OfflineQueueUsers     prometheus.Gauge
	OfflineQueueEntries   prometheus.Gauge
	OfflineQueueDropped   *prometheus.CounterVec
	OfflineQueueDelivered prometheus.Counter

	// External API metrics
	ExternalAPIRequestDuration *prometheus.HistogramVec
	ExternalAPIRequestsTotal   *prometheus.CounterVec
	ExternalAPIErrors          *prometheus.CounterVec

	logger *zap.Logger
}

// New creates and registers all metrics with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, nil)
}

// NewWithLogger creates and registers all metrics with the default registry and a logger
func NewWithLogger(logger *zap.Logger) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, logger)
}

// NewWithRegistry creates and registers all metrics with a custom registry
func NewWithRegistry(registerer prometheus.Registerer, logger *zap.Logger) *Metrics {
	factory := promauto.With(registerer)

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),

		WSActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_active_connections",
				Help:      "Current number of open WebSocket connections on this instance",
			},
		),
		WSConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_connections_total",
				Help:      "Total number of accepted WebSocket connections",
			},
		),
		WSHandshakeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_handshake_failures_total",
				Help:      "Total number of rejected WebSocket handshakes",
			},
			[]string{"reason"},
		),
		ClientCommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_commands_total",
				Help:      "Total number of commands received from clients",
			},
			[]string{"command"},
		),
		PresenceStoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_store_errors_total",
				Help:      "Total number of swallowed presence store failures",
			},
			[]string{"op"},
		),
		BridgeEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_events_total",
				Help:      "Total number of events received from the publish/subscribe bridge",
			},
			[]string{"target", "outcome"},
		),
		OfflineQueueUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "offline_queue_users",
				Help:      "Number of users with a non-empty offline queue",
			},
		),
		OfflineQueueEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "offline_queue_entries",
				Help:      "Number of events held in offline queues",
			},
		),
		OfflineQueueDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offline_queue_dropped_total",
				Help:      "Total number of queued events dropped before delivery",
			},
			[]string{"reason"},
		),
		OfflineQueueDelivered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offline_queue_delivered_total",
				Help:      "Total number of queued events delivered on reconnect",
			},
		),

		ExternalAPIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "external_api_request_duration_seconds",
				Help:      "External API request duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint", "status"},
		),
		ExternalAPIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_api_requests_total",
				Help:      "Total number of external API requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		ExternalAPIErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_api_errors_total",
				Help:      "Total number of external API errors",
			},
			[]string{"endpoint", "error_type"},
		),

		logger: logger,
	}
}

// safeExecute wraps metric operations with panic recovery
func (m *Metrics) safeExecute(operation string, fn func()) {
	if m == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic in metrics operation",
				zap.String("operation", operation),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
