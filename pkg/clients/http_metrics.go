package clients

import (
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/orbit/pkg/observability"
)

// HTTPMetrics keeps in-process request counters and forwards every request to
// the Prometheus collectors.
type HTTPMetrics struct {
	totalRequests  int64
	failedRequests int64
	totalLatency   int64
	bytesSent      int64
	bytesReceived  int64
}

// NewHTTPMetrics creates a new HTTP metrics tracker
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{}
}

// RecordRequest records one round trip. status is 0 when no response arrived.
func (hm *HTTPMetrics) RecordRequest(method string, status int, latency time.Duration, sent, received int) {
	atomic.AddInt64(&hm.totalRequests, 1)
	atomic.AddInt64(&hm.totalLatency, int64(latency))
	atomic.AddInt64(&hm.bytesSent, int64(sent))
	atomic.AddInt64(&hm.bytesReceived, int64(received))
	if status == 0 || status >= 500 {
		atomic.AddInt64(&hm.failedRequests, 1)
	}

	observability.RecordHTTPRequest(method, status, latency)
}

// GetAverageLatency returns the mean latency over all recorded requests
func (hm *HTTPMetrics) GetAverageLatency() time.Duration {
	total := atomic.LoadInt64(&hm.totalRequests)
	if total == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&hm.totalLatency) / total)
}

// Snapshot returns the current counters
func (hm *HTTPMetrics) Snapshot() HTTPStats {
	total := atomic.LoadInt64(&hm.totalRequests)
	failed := atomic.LoadInt64(&hm.failedRequests)

	stats := HTTPStats{
		TotalRequests:  total,
		FailedRequests: failed,
		BytesSent:      atomic.LoadInt64(&hm.bytesSent),
		BytesReceived:  atomic.LoadInt64(&hm.bytesReceived),
		AverageLatency: hm.GetAverageLatency(),
	}
	if total > 0 {
		stats.SuccessRate = float64(total-failed) / float64(total) * 100
	}
	return stats
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64         `json:"total_requests"`
	FailedRequests int64         `json:"failed_requests"`
	SuccessRate    float64       `json:"success_rate"`
	BytesSent      int64         `json:"bytes_sent"`
	BytesReceived  int64         `json:"bytes_received"`
	AverageLatency time.Duration `json:"average_latency"`
	CircuitState   string        `json:"circuit_state,omitempty"`
}
