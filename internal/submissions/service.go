package submissions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedback-backend/internal/queue"
	"feedback-backend/internal/shared/metrics"
	"feedback-backend/internal/shared/storage/object"
	"feedback-backend/internal/shared/telemetry"
	"feedback-backend/internal/shared/util"
	"feedback-backend/internal/tenants"
)

const maxCallerNameLen = 200

// TenantSource is the slice of the tenants service the submission flow
// needs: public slug resolution with the unknown/inactive ambiguity.
type TenantSource interface {
	Resolve(ctx context.Context, slug string) (tenants.Tenant, error)
}

// Service contains intake and admin logic for submissions.
type Service struct {
	Repo    Repo
	Tenants TenantSource
	Store   object.ObjectStore
	Queue   queue.Client
}

// Create accepts one audio clip for a tenant: resolves the slug, validates
// the format against the allow-list, persists the audio and the submission
// row, and enqueues processing. Returns before any processing happens.
func (s *Service) Create(ctx context.Context, slug, callerName, fileName, declaredMime string, r io.Reader) (Submission, error) {
	tenant, err := s.Tenants.Resolve(ctx, slug)
	if err != nil {
		return Submission{}, err
	}

	callerName = strings.TrimSpace(callerName)
	if len(callerName) > maxCallerNameLen {
		return Submission{}, validationErr("callerName", "caller name is too long")
	}

	if strings.TrimSpace(fileName) == "" {
		fileName = "clip"
	}
	fileName, err = util.SanitizeFileName(fileName)
	if err != nil {
		return Submission{}, validationErr("audio", "invalid file name")
	}

	var sniff [sniffLen]byte
	n, readErr := io.ReadFull(r, sniff[:])
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		return Submission{}, fmt.Errorf("read audio: %w", readErr)
	}
	if n == 0 {
		return Submission{}, validationErr("audio", "audio file is empty")
	}

	resolvedMime, ok := ResolveAudioMime(http.DetectContentType(sniff[:n]), declaredMime, fileName)
	if !ok {
		return Submission{}, validationErr("audio", "unsupported audio format")
	}

	body := io.MultiReader(bytes.NewReader(sniff[:n]), r)
	storageKey, size, sniffedMime, err := s.Store.Save(ctx, tenant.Slug, fileName, body)
	if err != nil {
		return Submission{}, fmt.Errorf("store audio: %w", err)
	}
	audioMime := resolvedMime
	if canonical, ok := allowedAudioMimes[normalizeMime(sniffedMime)]; ok {
		audioMime = canonical
	}

	sub := Submission{
		ID:         uuid.NewString(),
		TenantSlug: tenant.Slug,
		CallerName: callerName,
		AudioKey:   storageKey,
		AudioMime:  audioMime,
		AudioBytes: size,
		Status:     StatusReceived,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, sub); err != nil {
		return Submission{}, fmt.Errorf("create submission: %w", err)
	}

	if err := s.enqueue(ctx, sub.ID); err != nil {
		telemetry.Error("submission.enqueue_failed", map[string]any{
			"request_id":    requestIDFromContext(ctx),
			"tenant_slug":   sub.TenantSlug,
			"submission_id": sub.ID,
			"error":         err.Error(),
		})
		// The row and audio already exist; fail the row instead of leaving
		// it stuck in received, so the admin retry endpoint can rescue it.
		if markErr := s.Repo.MarkFailed(ctx, sub.ID, StageReceived, ErrorCodeQueue, sanitizeError(err), false); markErr != nil {
			telemetry.Error("submission.enqueue_fail_mark_failed", map[string]any{
				"submission_id": sub.ID,
				"error":         markErr.Error(),
			})
		}
		return Submission{}, fmt.Errorf("enqueue submission: %w", err)
	}

	metrics.IncSubmissionReceived()
	telemetry.Info("submission.received", map[string]any{
		"request_id":    requestIDFromContext(ctx),
		"tenant_slug":   sub.TenantSlug,
		"submission_id": sub.ID,
		"audio_mime":    sub.AudioMime,
		"audio_bytes":   sub.AudioBytes,
	})
	return sub, nil
}

// Get returns a submission by ID.
func (s *Service) Get(ctx context.Context, id string) (Submission, error) {
	if id == "" {
		return Submission{}, ErrNotFound
	}
	return s.Repo.GetByID(ctx, id)
}

// List returns submissions for the admin surface.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Submission, error) {
	return s.Repo.List(ctx, filter)
}

// Detail returns a submission with its full stage attempt audit trail.
func (s *Service) Detail(ctx context.Context, id string) (Submission, []StageAttempt, error) {
	sub, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Submission{}, nil, err
	}
	attempts, err := s.Repo.ListStageAttempts(ctx, id)
	if err != nil {
		return Submission{}, nil, err
	}
	return sub, attempts, nil
}

// Retry re-arms a permanently failed submission and re-enqueues it. The
// attempt budget restarts from zero and processing resumes at the failed
// stage; transcript and summary from succeeded stages are reused.
func (s *Service) Retry(ctx context.Context, id string) (Submission, error) {
	if err := s.Repo.ResetForRetry(ctx, id); err != nil {
		return Submission{}, err
	}
	if err := s.enqueue(ctx, id); err != nil {
		return Submission{}, fmt.Errorf("enqueue retry: %w", err)
	}
	telemetry.Info("submission.retry_requested", map[string]any{
		"request_id":    requestIDFromContext(ctx),
		"submission_id": id,
	})
	return s.Repo.GetByID(ctx, id)
}

// Cancel marks a non-terminal submission cancelled. The worker checks for
// cancellation before each stage, so no further provider calls or emails
// happen for it.
func (s *Service) Cancel(ctx context.Context, id string) (Submission, error) {
	if err := s.Repo.MarkCancelled(ctx, id); err != nil {
		return Submission{}, err
	}
	metrics.IncSubmissionCancelled()
	telemetry.Info("submission.cancelled", map[string]any{
		"request_id":    requestIDFromContext(ctx),
		"submission_id": id,
	})
	return s.Repo.GetByID(ctx, id)
}

// CancelActiveForTenant cancels all non-terminal submissions of a tenant.
// Wired as the tenants service's deactivation hook.
func (s *Service) CancelActiveForTenant(ctx context.Context, slug string) (int, error) {
	n, err := s.Repo.CancelActiveForTenant(ctx, slug)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		metrics.IncSubmissionCancelled()
	}
	return n, nil
}

func (s *Service) enqueue(ctx context.Context, submissionID string) error {
	return s.Queue.Send(ctx, queue.Message{
		SubmissionID: submissionID,
		RequestID:    requestIDFromContext(ctx),
		EnqueuedAt:   time.Now().UTC().Format(time.RFC3339),
		Version:      queue.MessageVersion,
	})
}
