// Package metrics wires the process's prometheus collectors: AI queue
// depth/throughput, broadcast operation volume, and live connection counts,
// exposed by internal/httpapi's /metrics route.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AIQueueDepth tracks AIQueue.Stats()'s pending/processing gauges by
	// status label.
	AIQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "colabhub",
		Subsystem: "ai_queue",
		Name:      "requests",
		Help:      "Current AI request count by status.",
	}, []string{"status"})

	// AIRequestDuration observes how long each final completer call took.
	AIRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "colabhub",
		Subsystem: "ai_queue",
		Name:      "request_duration_seconds",
		Help:      "Duration of the completer call for AI requests that reached a terminal result.",
		Buckets:   prometheus.DefBuckets,
	})

	// OperationsTotal counts operations accepted by the broadcaster, per
	// document, since process start.
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "colabhub",
		Subsystem: "broadcast",
		Name:      "operations_total",
		Help:      "Operations applied per document.",
	}, []string{"document_id"})

	// ActiveConnections tracks the number of live websocket connections.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "colabhub",
		Subsystem: "hub",
		Name:      "active_connections",
		Help:      "Currently open websocket connections.",
	})

	// ActiveDocuments tracks the number of documents currently resident in
	// the DocumentStore's memory.
	ActiveDocuments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "colabhub",
		Subsystem: "document",
		Name:      "active_documents",
		Help:      "Documents currently tracked in the store.",
	})
)

// Registry is the process's prometheus registry. internal/httpapi serves it
// on /metrics in the prometheus format; the JSON-format path does not read
// these collectors and reports AIQueue stats and store counts instead.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(AIQueueDepth, AIRequestDuration, OperationsTotal, ActiveConnections, ActiveDocuments)
}
