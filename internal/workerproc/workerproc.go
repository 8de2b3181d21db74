package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedback-backend/internal/queue"
	"feedback-backend/internal/shared/metrics"
	"feedback-backend/internal/shared/telemetry"
	"feedback-backend/internal/submissions"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingSubmissionID indicates a message without a submission id.
type ErrMissingSubmissionID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingSubmissionID) Error() string { return "missing submission id" }

// ErrUnsupportedVersion indicates a payload newer than this consumer.
type ErrUnsupportedVersion struct {
	Version int
}

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported message version %d", e.Version)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if msg.Version > queue.MessageVersion {
		return msg, meta, ErrUnsupportedVersion{Version: msg.Version}
	}
	if strings.TrimSpace(msg.SubmissionID) == "" {
		return msg, meta, ErrMissingSubmissionID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// Runner drives the pipeline for queue deliveries and settles each one:
// Delete for finished or unrecoverable jobs, Release with backoff for
// transient failures that still have attempt budget.
type Runner struct {
	Pipeline *submissions.Pipeline
	Source   queue.Source

	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// HandleDelivery processes one delivery end to end. It never returns an
// error: every outcome maps to a settle action on the delivery itself.
func (r *Runner) HandleDelivery(ctx context.Context, d queue.Delivery) {
	msg, meta, err := ParseMessage(d.Body)
	if err != nil {
		fields := r.fields(d, msg.SubmissionID, msg.RequestID)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.submission.decode_failed", fields)
		if r.deleteDelivery(ctx, d, fields) {
			metrics.IncJobsDeletedUnrecoverable()
		}
		return
	}

	ctx = submissions.WithRequestID(ctx, msg.RequestID)
	fields := r.fields(d, msg.SubmissionID, msg.RequestID)
	telemetry.Info("worker.submission.received", fields)

	err = r.Pipeline.Process(ctx, msg.SubmissionID)
	switch {
	case err == nil:
		if r.deleteDelivery(ctx, d, fields) {
			telemetry.Info("worker.submission.completed", fields)
			metrics.IncJobsCompleted()
		}

	case errors.Is(err, submissions.ErrNotFound):
		// Row never existed or was purged; redelivery cannot fix it.
		fields["error"] = err.Error()
		telemetry.Error("worker.submission.orphaned", fields)
		if r.deleteDelivery(ctx, d, fields) {
			metrics.IncJobsDeletedUnrecoverable()
		}

	case errors.Is(err, submissions.ErrAlreadyClaimed):
		// Another worker owns the lease. Back off; if that owner crashed,
		// the lease will have expired by the time this redelivers.
		r.releaseDelivery(ctx, d, r.BackoffBase, fields)

	default:
		var serr *submissions.StageError
		if errors.As(err, &serr) {
			r.settleStageFailure(ctx, d, msg.SubmissionID, serr, fields)
			return
		}
		// Unclassified failure (storage blip, lost CAS race): redeliver.
		fields["error"] = err.Error()
		telemetry.Error("worker.submission.retry_later", fields)
		r.releaseDelivery(ctx, d, r.BackoffBase, fields)
	}
}

func (r *Runner) settleStageFailure(ctx context.Context, d queue.Delivery, submissionID string, serr *submissions.StageError, fields map[string]any) {
	fields["stage"] = serr.Stage
	fields["error_code"] = serr.Code
	fields["attempt"] = serr.Attempt

	if !serr.Retryable {
		telemetry.Warn("worker.submission.failed", fields)
		if r.deleteDelivery(ctx, d, fields) {
			metrics.IncJobsFailed()
		}
		return
	}

	if serr.Attempt >= r.MaxAttempts {
		if err := r.Pipeline.Repo.MarkExhausted(ctx, submissionID); err != nil {
			fields["error"] = err.Error()
			telemetry.Error("worker.submission.exhaust_failed", fields)
		}
		telemetry.Warn("worker.submission.exhausted", fields)
		if r.deleteDelivery(ctx, d, fields) {
			metrics.IncJobsExhausted()
		}
		return
	}

	delay := r.backoff(serr.Attempt)
	fields["release_delay"] = delay.String()
	telemetry.Info("worker.submission.released", fields)
	r.releaseDelivery(ctx, d, delay, fields)
}

// backoff returns base * 2^(attempt-1) capped at BackoffCap.
func (r *Runner) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.BackoffCap {
			return r.BackoffCap
		}
	}
	if r.BackoffCap > 0 && delay > r.BackoffCap {
		return r.BackoffCap
	}
	return delay
}

func (r *Runner) deleteDelivery(ctx context.Context, d queue.Delivery, fields map[string]any) bool {
	if err := r.Source.Delete(ctx, d); err != nil {
		failFields := cloneFields(fields)
		failFields["error"] = err.Error()
		telemetry.Error("worker.submission.delete_failed", failFields)
		return false
	}
	return true
}

func (r *Runner) releaseDelivery(ctx context.Context, d queue.Delivery, delay time.Duration, fields map[string]any) {
	if err := r.Source.Release(ctx, d, delay); err != nil {
		failFields := cloneFields(fields)
		failFields["error"] = err.Error()
		telemetry.Error("worker.submission.release_failed", failFields)
		return
	}
	metrics.IncJobsReleased()
}

func (r *Runner) fields(d queue.Delivery, submissionID, requestID string) map[string]any {
	fields := map[string]any{
		"receipt":       d.Receipt,
		"receive_count": d.ReceiveCount,
	}
	if submissionID != "" {
		fields["submission_id"] = submissionID
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	return out
}
