package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orbit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by method and status class",
		},
		[]string{"method", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orbit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"method"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orbit",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"component", "operation", "status"},
	)

	recordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orbit",
			Subsystem: "engine",
			Name:      "records_total",
			Help:      "Total number of records submitted by outcome",
		},
		[]string{"component", "operation", "status"},
	)

	batchBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orbit",
			Subsystem: "bulk",
			Name:      "batch_bytes",
			Help:      "Serialized size of uploaded bulk batches",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"object"},
	)

	engineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orbit",
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Total number of engine errors by type",
		},
		[]string{"component", "operation", "error_type"},
	)
)

// RecordHTTPRequest records one API round trip. status is the numeric status
// code, or 0 when the request never produced a response.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, statusClass(status)).Inc()
	httpDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// MetricsCollector records engine metrics under a fixed component label
type MetricsCollector struct {
	component string
}

// NewMetricsCollector creates a collector for component, e.g. "composite" or "bulk"
func NewMetricsCollector(component string) *MetricsCollector {
	return &MetricsCollector{component: component}
}

// RecordDuration records how long an operation took
func (mc *MetricsCollector) RecordDuration(operation string, duration time.Duration, err error) {
	operationDuration.WithLabelValues(mc.component, operation, getStatus(err)).Observe(duration.Seconds())
}

// RecordRecords adds count records to the processed counter
func (mc *MetricsCollector) RecordRecords(operation string, count int, err error) {
	recordsProcessed.WithLabelValues(mc.component, operation, getStatus(err)).Add(float64(count))
}

// RecordBatchBytes observes the size of an uploaded batch
func (mc *MetricsCollector) RecordBatchBytes(object string, size int) {
	batchBytes.WithLabelValues(object).Observe(float64(size))
}

// RecordError increments the error counter
func (mc *MetricsCollector) RecordError(operation string, errorType string) {
	engineErrors.WithLabelValues(mc.component, operation, errorType).Inc()
}

// getStatus returns status string for metrics
func getStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// MetricsHandler serves every registered metric in the Prometheus text
// format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
