package submissions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"feedback-backend/internal/mail"
	"feedback-backend/internal/provider"
	"feedback-backend/internal/shared/metrics"
	"feedback-backend/internal/shared/storage/object"
	"feedback-backend/internal/shared/telemetry"
	"feedback-backend/internal/summarize"
	"feedback-backend/internal/tenants"
	"feedback-backend/internal/transcribe"
)

// Pipeline drives one submission through transcription, summarization and
// delivery. Process is safe to call repeatedly for the same submission:
// the claim lease keeps concurrent workers off the row and terminal
// statuses make redelivered jobs no-ops.
type Pipeline struct {
	Repo        Repo
	Tenants     TenantSource
	Store       object.ObjectStore
	Transcriber transcribe.Transcriber
	Summarizer  summarize.Summarizer
	Sender      mail.Sender

	Classifier   *provider.Classifier
	LeaseSeconds int

	TranscribeTimeout time.Duration
	SummarizeTimeout  time.Duration
	DeliverTimeout    time.Duration
}

// Process runs the submission forward from its current status. It returns
// nil when the submission reached a terminal status (or already was there),
// ErrAlreadyClaimed when another worker holds a live lease, and a
// *StageError when a stage failed and was recorded as such.
func (p *Pipeline) Process(ctx context.Context, id string) error {
	sub, err := p.Repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sub.Terminal() {
		p.logSkipped(ctx, sub)
		return nil
	}

	sub, err = p.Repo.Claim(ctx, id, p.LeaseSeconds)
	if err != nil {
		return err
	}
	if sub.Terminal() {
		p.logSkipped(ctx, sub)
		return nil
	}

	var audio []byte

	if sub.Status == StatusReceived {
		audio, err = p.loadAudio(ctx, sub)
		if err != nil {
			return p.failStage(ctx, sub, StageReceived, err, time.Now().UTC())
		}
		if len(audio) == 0 {
			cause := provider.Permanent(ErrorCodeEmptyAudio, errors.New("stored audio object is empty"))
			return p.failStage(ctx, sub, StageReceived, cause, time.Now().UTC())
		}
		if err := p.Repo.Advance(ctx, sub.ID, StatusReceived, StatusTranscribing); err != nil {
			return p.onConflict(ctx, sub.ID, err)
		}
		p.logTransition(ctx, sub, StatusReceived, StatusTranscribing)
		sub.Status = StatusTranscribing
	}

	if sub.Status == StatusTranscribing {
		cur, stop, err := p.refresh(ctx, sub.ID)
		if err != nil {
			return err
		}
		if stop {
			p.logSkipped(ctx, cur)
			return nil
		}
		sub = cur

		if audio == nil {
			audio, err = p.loadAudio(ctx, sub)
			if err != nil {
				return p.failStage(ctx, sub, StageTranscribing, err, time.Now().UTC())
			}
		}

		start := time.Now().UTC()
		tctx, cancel := context.WithTimeout(ctx, p.TranscribeTimeout)
		text, err := p.Transcriber.Transcribe(tctx, transcribe.Input{
			SubmissionID: sub.ID,
			TenantSlug:   sub.TenantSlug,
			FileName:     path.Base(sub.AudioKey),
			MimeType:     sub.AudioMime,
			Audio:        audio,
		})
		cancel()
		if err != nil {
			return p.failStage(ctx, sub, StageTranscribing, err, start)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			cause := provider.Permanent(provider.CodeEmptyResult, errors.New("transcription produced no text"))
			return p.failStage(ctx, sub, StageTranscribing, cause, start)
		}

		if _, err := p.Repo.AppendStageAttempt(ctx, sub.ID, StageTranscribing, OutcomeSuccess, ""); err != nil {
			return fmt.Errorf("record stage attempt: %w", err)
		}
		if err := p.Repo.SetTranscript(ctx, sub.ID, text); err != nil {
			return p.onConflict(ctx, sub.ID, err)
		}
		metrics.ObserveStageDurationMs(sinceMs(start))
		p.logTransition(ctx, sub, StatusTranscribing, StatusSummarizing)
		sub.Transcript = text
		sub.Status = StatusSummarizing
	}

	if sub.Status == StatusSummarizing {
		cur, stop, err := p.refresh(ctx, sub.ID)
		if err != nil {
			return err
		}
		if stop {
			p.logSkipped(ctx, cur)
			return nil
		}
		sub = cur

		start := time.Now().UTC()
		sctx, cancel := context.WithTimeout(ctx, p.SummarizeTimeout)
		res, err := p.Summarizer.Summarize(sctx, summarize.Input{
			SubmissionID: sub.ID,
			TenantSlug:   sub.TenantSlug,
			Transcript:   sub.Transcript,
		})
		cancel()
		if err != nil {
			return p.failStage(ctx, sub, StageSummarizing, err, start)
		}

		if _, err := p.Repo.AppendStageAttempt(ctx, sub.ID, StageSummarizing, OutcomeSuccess, ""); err != nil {
			return fmt.Errorf("record stage attempt: %w", err)
		}
		if err := p.Repo.SetSummary(ctx, sub.ID, res.Summary, res.Sentiment); err != nil {
			return p.onConflict(ctx, sub.ID, err)
		}
		metrics.ObserveStageDurationMs(sinceMs(start))
		p.logTransition(ctx, sub, StatusSummarizing, StatusDelivering)
		sub.Summary = res.Summary
		sub.Sentiment = res.Sentiment
		sub.Status = StatusDelivering
	}

	if sub.Status == StatusDelivering {
		// Re-read right before sending: if a previous run crashed after the
		// email went out but before the status write, the redelivered job
		// must not send a second copy.
		cur, stop, err := p.refresh(ctx, sub.ID)
		if err != nil {
			return err
		}
		if stop {
			p.logSkipped(ctx, cur)
			return nil
		}
		sub = cur

		tenant, err := p.Tenants.Resolve(ctx, sub.TenantSlug)
		if errors.Is(err, tenants.ErrNotFound) {
			// Tenant was deactivated mid-flight. Nobody is listening, so
			// cancel instead of emailing a dead address.
			if err := p.Repo.MarkCancelled(ctx, sub.ID); err != nil {
				if errors.Is(err, ErrNotCancellable) {
					return nil
				}
				return err
			}
			metrics.IncSubmissionCancelled()
			telemetry.Info("submission.cancelled", map[string]any{
				"request_id":    requestIDFromContext(ctx),
				"submission_id": sub.ID,
				"tenant_slug":   sub.TenantSlug,
				"reason":        "tenant_inactive",
			})
			return nil
		}
		if err != nil {
			return p.failStage(ctx, sub, StageDelivering, err, time.Now().UTC())
		}

		start := time.Now().UTC()
		dctx, cancel := context.WithTimeout(ctx, p.DeliverTimeout)
		err = p.Sender.Send(dctx, composeEmail(tenant, sub))
		cancel()
		if err != nil {
			return p.failStage(ctx, sub, StageDelivering, err, start)
		}

		if _, err := p.Repo.AppendStageAttempt(ctx, sub.ID, StageDelivering, OutcomeSuccess, ""); err != nil {
			return fmt.Errorf("record stage attempt: %w", err)
		}
		if err := p.Repo.MarkDelivered(ctx, sub.ID); err != nil {
			return p.onConflict(ctx, sub.ID, err)
		}
		metrics.IncEmailSent()
		metrics.IncSubmissionDelivered()
		metrics.ObserveStageDurationMs(sinceMs(start))
		now := time.Now().UTC()
		metrics.ObservePipelineDurationMs(durationMs(sub.StartedAt, &now))
		p.logTransition(ctx, sub, StatusDelivering, StatusDelivered)
	}

	return nil
}

func (p *Pipeline) loadAudio(ctx context.Context, sub Submission) ([]byte, error) {
	rc, err := p.Store.Open(ctx, sub.AudioKey)
	if err != nil {
		return nil, provider.Transient(provider.CodeStorage, fmt.Errorf("open audio: %w", err))
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, provider.Transient(provider.CodeStorage, fmt.Errorf("read audio: %w", err))
	}
	return data, nil
}

// refresh re-reads the row between stages so an admin cancellation lands
// before the next provider call instead of after it.
func (p *Pipeline) refresh(ctx context.Context, id string) (Submission, bool, error) {
	sub, err := p.Repo.GetByID(ctx, id)
	if err != nil {
		return Submission{}, false, err
	}
	return sub, sub.Terminal(), nil
}

// failStage records the attempt, moves the submission to failed and hands
// the classified outcome to the worker loop. The writes run on a fresh
// context so a cancelled job context cannot lose the failure record.
func (p *Pipeline) failStage(ctx context.Context, sub Submission, stage string, cause error, start time.Time) error {
	// A dead job context means this worker is shutting down, not that the
	// stage itself failed. Leave the row untouched so the redelivered job
	// resumes the stage on another worker.
	if ctx.Err() != nil {
		return fmt.Errorf("%s interrupted: %w", stage, cause)
	}

	perr := p.Classifier.Classify(cause)
	outcome := OutcomePermanentFailure
	if perr.Retryable() {
		outcome = OutcomeTransientFailure
	}
	detail := sanitizeError(cause)

	if _, err := p.Repo.AppendStageAttempt(context.Background(), sub.ID, stage, outcome, detail); err != nil {
		telemetry.Error("submission.attempt_record_failed", map[string]any{
			"submission_id": sub.ID,
			"stage":         stage,
			"error":         err.Error(),
		})
	}
	if err := p.Repo.MarkFailed(context.Background(), sub.ID, stage, perr.Code, detail, perr.Retryable()); err != nil {
		return p.onConflict(ctx, sub.ID, err)
	}

	metrics.IncSubmissionFailed()
	metrics.ObserveStageDurationMs(sinceMs(start))
	telemetry.Warn("submission.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"submission_id":     sub.ID,
		"tenant_slug":       sub.TenantSlug,
		"stage":             stage,
		"error_code":        perr.Code,
		"retryable":         perr.Retryable(),
		"attempt":           sub.AttemptCount,
		"status_transition": sub.Status + "->" + StatusFailed,
	})
	return &StageError{Stage: stage, Code: perr.Code, Retryable: perr.Retryable(), Attempt: sub.AttemptCount, Err: cause}
}

// onConflict resolves a lost status CAS. A concurrent move to a terminal
// status (admin cancellation, duplicate delivery) ends the job cleanly;
// anything else bubbles up so the queue retries the stage.
func (p *Pipeline) onConflict(ctx context.Context, id string, cause error) error {
	if !errors.Is(cause, ErrConflict) {
		return cause
	}
	sub, err := p.Repo.GetByID(ctx, id)
	if err != nil {
		return cause
	}
	if sub.Terminal() {
		p.logSkipped(ctx, sub)
		return nil
	}
	return cause
}

func (p *Pipeline) logTransition(ctx context.Context, sub Submission, from, to string) {
	telemetry.Info("submission.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"submission_id":     sub.ID,
		"tenant_slug":       sub.TenantSlug,
		"attempt":           sub.AttemptCount,
		"status_transition": from + "->" + to,
	})
}

func (p *Pipeline) logSkipped(ctx context.Context, sub Submission) {
	telemetry.Info("submission.skipped", map[string]any{
		"request_id":    requestIDFromContext(ctx),
		"submission_id": sub.ID,
		"status":        sub.Status,
	})
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}

func durationMs(start, end *time.Time) float64 {
	if start == nil || end == nil {
		return 0
	}
	return float64(end.Sub(*start).Milliseconds())
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Milliseconds())
}
