package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger RPC Metrics
	rpcCallsTotal       *prometheus.CounterVec
	rpcCallDuration     *prometheus.HistogramVec
	rpcFailoversTotal   *prometheus.CounterVec
	rpcExhaustedTotal   *prometheus.CounterVec
	rpcTransfersPerPage *prometheus.HistogramVec
	nodeUp              *prometheus.GaugeVec
	nodeLatency         *prometheus.GaugeVec
	nodeValidatedLedger *prometheus.GaugeVec

	// Transfer Processing Metrics
	transfersFetchedTotal       *prometheus.CounterVec
	transfersParsedTotal        *prometheus.CounterVec
	transfersWrittenTotal       *prometheus.CounterVec
	transfersSkippedTotal       *prometheus.CounterVec
	transfersDeduplicationRatio *prometheus.GaugeVec

	// Workflow Metrics
	pollActivityDuration *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Ledger RPC Metrics
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rpc_calls_total",
				Help: "Total number of ledger node RPC attempts by method, status and node",
			},
			[]string{"network", "method", "status", "node"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_rpc_call_duration_seconds",
				Help:    "Duration of single ledger node RPC attempts in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"network", "method", "node"},
		),
		rpcFailoversTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rpc_failovers_total",
				Help: "Total number of times a call moved past a failed node",
			},
			[]string{"network", "node", "reason"},
		),
		rpcExhaustedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rpc_exhausted_total",
				Help: "Total number of calls for which every node failed",
			},
			[]string{"network", "method"},
		),
		rpcTransfersPerPage: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_rpc_transfers_per_page",
				Help:    "Number of transfers parsed from one address history page",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 200, 400},
			},
			[]string{"network"},
		),
		nodeUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_node_up",
				Help: "Whether the last health check of a ledger node succeeded (1) or failed (0)",
			},
			[]string{"network", "node"},
		),
		nodeLatency: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_node_check_latency_seconds",
				Help: "Latency of the last health check of a ledger node in seconds",
			},
			[]string{"network", "node"},
		),
		nodeValidatedLedger: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_node_validated_ledger",
				Help: "Latest validated ledger index reported by a ledger node",
			},
			[]string{"network", "node"},
		),

		// Transfer Processing Metrics
		transfersFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_fetched_total",
				Help: "Total number of transfers fetched from ledger nodes",
			},
			[]string{"network", "address"},
		),
		transfersParsedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_parsed_total",
				Help: "Total number of raw transactions parsed by outcome",
			},
			[]string{"network", "status"},
		),
		transfersWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_written_total",
				Help: "Total number of transfers written to database",
			},
			[]string{"network", "address"},
		),
		transfersSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_skipped_total",
				Help: "Total number of transfers skipped",
			},
			[]string{"network", "address", "reason"},
		),
		transfersDeduplicationRatio: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "transfers_deduplication_ratio",
				Help: "Ratio of skipped transfers to total transfers (0.0-1.0)",
			},
			[]string{"network", "address"},
		),

		// Workflow Metrics
		pollActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_activity_duration_seconds",
				Help:    "Duration of poll workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "address"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Ledger RPC metric helpers

// RecordRPCCall records a single node attempt with duration.
func (m *Metrics) RecordRPCCall(network, method, status, node string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(network, method, status, node).Inc()
	m.rpcCallDuration.WithLabelValues(network, method, node).Observe(duration)
}

// RecordFailover records a call moving past a failed node.
func (m *Metrics) RecordFailover(network, node, reason string) {
	m.rpcFailoversTotal.WithLabelValues(network, node, reason).Inc()
}

// RecordExhausted records a call for which every node failed.
func (m *Metrics) RecordExhausted(network, method string) {
	m.rpcExhaustedTotal.WithLabelValues(network, method).Inc()
}

// RecordTransfersPerPage records the number of transfers in a history page.
func (m *Metrics) RecordTransfersPerPage(network string, count int) {
	m.rpcTransfersPerPage.WithLabelValues(network).Observe(float64(count))
}

// RecordNodeCheck records the outcome of checking one node.
func (m *Metrics) RecordNodeCheck(network, node string, up bool, latency float64, validatedLedger int64) {
	value := 0.0
	if up {
		value = 1.0
	}
	m.nodeUp.WithLabelValues(network, node).Set(value)
	m.nodeLatency.WithLabelValues(network, node).Set(latency)
	if up && validatedLedger > 0 {
		m.nodeValidatedLedger.WithLabelValues(network, node).Set(float64(validatedLedger))
	}
}

// Transfer processing metric helpers

// RecordTransfersFetched records transfers fetched for an address.
func (m *Metrics) RecordTransfersFetched(network, address string, count int) {
	m.transfersFetchedTotal.WithLabelValues(network, address).Add(float64(count))
}

// RecordTransfersParsed records parse outcomes ("transfer", "skipped", "error").
func (m *Metrics) RecordTransfersParsed(network, status string, count int) {
	if count <= 0 {
		return
	}
	m.transfersParsedTotal.WithLabelValues(network, status).Add(float64(count))
}

// RecordTransfersWritten records transfers written to database.
func (m *Metrics) RecordTransfersWritten(network, address string, count int) {
	m.transfersWrittenTotal.WithLabelValues(network, address).Add(float64(count))
}

// RecordTransfersSkipped records transfers skipped.
func (m *Metrics) RecordTransfersSkipped(network, address, reason string, count int) {
	m.transfersSkippedTotal.WithLabelValues(network, address, reason).Add(float64(count))
}

// RecordDeduplicationRatio records the deduplication efficiency ratio.
func (m *Metrics) RecordDeduplicationRatio(network, address string, ratio float64) {
	m.transfersDeduplicationRatio.WithLabelValues(network, address).Set(ratio)
}

// Workflow metric helpers

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, address string, duration float64) {
	m.pollActivityDuration.WithLabelValues(activity, address).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
