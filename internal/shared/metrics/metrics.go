package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	submissionsReceivedTotal  atomic.Uint64
	submissionsDeliveredTotal atomic.Uint64
	submissionsFailedTotal    atomic.Uint64
	submissionsCancelledTotal atomic.Uint64

	jobsReceivedTotal             atomic.Uint64
	jobsCompletedTotal            atomic.Uint64
	jobsReleasedTotal             atomic.Uint64
	jobsExhaustedTotal            atomic.Uint64
	jobsFailedTotal               atomic.Uint64
	jobsDeletedUnrecoverableTotal atomic.Uint64

	emailsSentTotal atomic.Uint64

	pipelineDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 180000})
	stageDuration    = newHistogram([]float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncSubmissionReceived increments the intake counter.
func IncSubmissionReceived() {
	submissionsReceivedTotal.Add(1)
}

// IncSubmissionDelivered increments the delivered counter.
func IncSubmissionDelivered() {
	submissionsDeliveredTotal.Add(1)
}

// IncSubmissionFailed increments the failed counter.
func IncSubmissionFailed() {
	submissionsFailedTotal.Add(1)
}

// IncSubmissionCancelled increments the cancelled counter.
func IncSubmissionCancelled() {
	submissionsCancelledTotal.Add(1)
}

// IncJobsReceived counts queue deliveries picked up by the worker.
func IncJobsReceived() {
	jobsReceivedTotal.Add(1)
}

// IncJobsCompleted counts queue deliveries finished and deleted.
func IncJobsCompleted() {
	jobsCompletedTotal.Add(1)
}

// IncJobsReleased counts queue deliveries re-enqueued with backoff.
func IncJobsReleased() {
	jobsReleasedTotal.Add(1)
}

// IncJobsExhausted counts submissions converted to permanent failure
// after the retry budget ran out.
func IncJobsExhausted() {
	jobsExhaustedTotal.Add(1)
}

// IncJobsFailed counts queue deliveries that ended in a processing error.
func IncJobsFailed() {
	jobsFailedTotal.Add(1)
}

// IncJobsDeletedUnrecoverable counts malformed deliveries dropped outright.
func IncJobsDeletedUnrecoverable() {
	jobsDeletedUnrecoverableTotal.Add(1)
}

// IncEmailSent increments the outbound email counter.
func IncEmailSent() {
	emailsSentTotal.Add(1)
}

// ObservePipelineDurationMs records a full pipeline run duration in milliseconds.
func ObservePipelineDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	pipelineDuration.Observe(value)
}

// ObserveStageDurationMs records a single stage duration in milliseconds.
func ObserveStageDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	stageDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "submissions_received_total", "Total submissions accepted at intake", submissionsReceivedTotal.Load())
	writeCounter(&buf, "submissions_delivered_total", "Total submissions delivered by email", submissionsDeliveredTotal.Load())
	writeCounter(&buf, "submissions_failed_total", "Total submissions that failed a stage", submissionsFailedTotal.Load())
	writeCounter(&buf, "submissions_cancelled_total", "Total submissions cancelled", submissionsCancelledTotal.Load())
	writeCounter(&buf, "worker_jobs_received_total", "Total queue deliveries received", jobsReceivedTotal.Load())
	writeCounter(&buf, "worker_jobs_completed_total", "Total queue deliveries completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "worker_jobs_released_total", "Total queue deliveries released for retry", jobsReleasedTotal.Load())
	writeCounter(&buf, "worker_jobs_exhausted_total", "Total submissions whose retry budget ran out", jobsExhaustedTotal.Load())
	writeCounter(&buf, "worker_jobs_failed_total", "Total queue deliveries that failed processing", jobsFailedTotal.Load())
	writeCounter(&buf, "worker_jobs_deleted_unrecoverable_total", "Total malformed queue deliveries dropped", jobsDeletedUnrecoverableTotal.Load())
	writeCounter(&buf, "emails_sent_total", "Total notification emails handed to transport", emailsSentTotal.Load())
	writeHistogram(&buf, "pipeline_duration_ms", "Full pipeline run duration in milliseconds", pipelineDuration.Snapshot())
	writeHistogram(&buf, "stage_duration_ms", "Single stage duration in milliseconds", stageDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
