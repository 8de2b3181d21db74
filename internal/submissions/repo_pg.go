package submissions

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const submissionColumns = `id, tenant_slug, caller_name, audio_key, audio_mime, audio_bytes,
       status, failed_stage, transcript, summary, sentiment, attempt_count,
       error_code, error_message, error_retryable,
       created_at, updated_at, started_at, completed_at`

// Create inserts a new submission.
func (r *PGRepo) Create(ctx context.Context, sub Submission) error {
	const query = `
INSERT INTO submissions (
	id, tenant_slug, caller_name, audio_key, audio_mime, audio_bytes,
	status, attempt_count, created_at, updated_at
)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, 0, $8, $8)`

	_, err := r.DB.ExecContext(ctx, query,
		sub.ID,
		sub.TenantSlug,
		sub.CallerName,
		sub.AudioKey,
		sub.AudioMime,
		sub.AudioBytes,
		sub.Status,
		sub.CreatedAt,
	)
	return err
}

// GetByID returns a submission by ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1 LIMIT 1`

	sub, err := scanSubmission(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Submission{}, ErrNotFound
		}
		return Submission{}, err
	}
	return sub, nil
}

// List returns submissions for the admin surface, newest first.
func (r *PGRepo) List(ctx context.Context, filter ListFilter) ([]Submission, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	builder := sq.Select(submissionColumns).
		From("submissions").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		PlaceholderFormat(sq.Dollar)
	if filter.TenantSlug != "" {
		builder = builder.Where(sq.Eq{"tenant_slug": filter.TenantSlug})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Claim takes single ownership of a claimable submission. All SET
// expressions see the pre-update row, so resuming a failed submission at
// its failed stage and clearing failed_stage happen in one atomic step.
func (r *PGRepo) Claim(ctx context.Context, id string, leaseSeconds int) (Submission, error) {
	const query = `
UPDATE submissions
SET status = CASE WHEN status = 'failed' THEN failed_stage ELSE status END,
    failed_stage = CASE WHEN status = 'failed' THEN NULL ELSE failed_stage END,
    attempt_count = attempt_count + 1,
    claim_expires_at = now() + ($2 * interval '1 second'),
    started_at = COALESCE(started_at, now()),
    updated_at = now()
WHERE id = $1
  AND (
    (status IN ('received', 'transcribing', 'summarizing', 'delivering')
     AND (claim_expires_at IS NULL OR claim_expires_at < now()))
    OR (status = 'failed' AND error_retryable = TRUE)
  )`

	res, err := r.DB.ExecContext(ctx, query, id, leaseSeconds)
	if err != nil {
		return Submission{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Submission{}, err
	}

	sub, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return Submission{}, getErr
	}
	if n == 0 {
		if sub.Terminal() {
			return sub, nil
		}
		return sub, ErrAlreadyClaimed
	}
	return sub, nil
}

// Advance moves the status forward without touching any payload column.
func (r *PGRepo) Advance(ctx context.Context, id, fromStatus, toStatus string) error {
	const query = `
UPDATE submissions
SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2`

	res, err := r.DB.ExecContext(ctx, query, id, fromStatus, toStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// SetTranscript stores the transcript and advances transcribing -> summarizing.
func (r *PGRepo) SetTranscript(ctx context.Context, id, transcript string) error {
	const query = `
UPDATE submissions
SET transcript = $2, status = 'summarizing', updated_at = now()
WHERE id = $1 AND status = 'transcribing'`

	res, err := r.DB.ExecContext(ctx, query, id, transcript)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// SetSummary stores summary + sentiment and advances summarizing -> delivering.
func (r *PGRepo) SetSummary(ctx context.Context, id, summary, sentiment string) error {
	const query = `
UPDATE submissions
SET summary = $2, sentiment = $3, status = 'delivering', updated_at = now()
WHERE id = $1 AND status = 'summarizing'`

	res, err := r.DB.ExecContext(ctx, query, id, summary, sentiment)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkDelivered advances delivering -> delivered and releases the claim.
func (r *PGRepo) MarkDelivered(ctx context.Context, id string) error {
	const query = `
UPDATE submissions
SET status = 'delivered',
    claim_expires_at = NULL,
    completed_at = COALESCE(completed_at, now()),
    updated_at = now()
WHERE id = $1 AND status = 'delivering'`

	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkFailed records a classified stage failure.
func (r *PGRepo) MarkFailed(ctx context.Context, id, stage, code, message string, retryable bool) error {
	const query = `
UPDATE submissions
SET status = 'failed',
    failed_stage = $2,
    error_code = $3,
    error_message = $4,
    error_retryable = $5,
    claim_expires_at = NULL,
    completed_at = CASE WHEN $5::boolean THEN completed_at ELSE COALESCE(completed_at, now()) END,
    updated_at = now()
WHERE id = $1 AND status NOT IN ('delivered', 'cancelled')`

	res, err := r.DB.ExecContext(ctx, query, id, stage, code, message, retryable)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkExhausted converts a retryable failure to a permanent one.
func (r *PGRepo) MarkExhausted(ctx context.Context, id string) error {
	const query = `
UPDATE submissions
SET error_retryable = FALSE,
    claim_expires_at = NULL,
    completed_at = COALESCE(completed_at, now()),
    updated_at = now()
WHERE id = $1 AND status = 'failed' AND error_retryable = TRUE`

	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkCancelled moves a non-terminal submission to cancelled.
func (r *PGRepo) MarkCancelled(ctx context.Context, id string) error {
	const query = `
UPDATE submissions
SET status = 'cancelled',
    claim_expires_at = NULL,
    completed_at = COALESCE(completed_at, now()),
    updated_at = now()
WHERE id = $1
  AND (status IN ('received', 'transcribing', 'summarizing', 'delivering')
       OR (status = 'failed' AND error_retryable = TRUE))`

	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrNotCancellable
	}
	return nil
}

// CancelActiveForTenant cancels every non-terminal submission of a tenant.
func (r *PGRepo) CancelActiveForTenant(ctx context.Context, tenantSlug string) (int, error) {
	const query = `
UPDATE submissions
SET status = 'cancelled',
    claim_expires_at = NULL,
    completed_at = COALESCE(completed_at, now()),
    updated_at = now()
WHERE tenant_slug = $1
  AND (status IN ('received', 'transcribing', 'summarizing', 'delivering')
       OR (status = 'failed' AND error_retryable = TRUE))`

	res, err := r.DB.ExecContext(ctx, query, tenantSlug)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ResetForRetry re-arms a permanently failed submission for operator retry.
func (r *PGRepo) ResetForRetry(ctx context.Context, id string) error {
	const query = `
UPDATE submissions
SET error_retryable = TRUE,
    attempt_count = 0,
    completed_at = NULL,
    claim_expires_at = NULL,
    updated_at = now()
WHERE id = $1 AND status = 'failed' AND error_retryable = FALSE`

	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrNotRetryable
	}
	return nil
}

// AppendStageAttempt appends one audit record with the next per-stage
// attempt number. The single-owner claim gate means at most one writer
// per submission, so the MAX+1 subquery cannot race with itself.
func (r *PGRepo) AppendStageAttempt(ctx context.Context, submissionID, stage, outcome, errorDetail string) (int, error) {
	const query = `
INSERT INTO stage_attempts (submission_id, stage, attempt_number, outcome, error_detail)
SELECT $1, $2, COALESCE(MAX(attempt_number), 0) + 1, $3, NULLIF($4, '')
FROM stage_attempts
WHERE submission_id = $1 AND stage = $2
RETURNING attempt_number`

	var attemptNumber int
	if err := r.DB.QueryRowContext(ctx, query, submissionID, stage, outcome, errorDetail).Scan(&attemptNumber); err != nil {
		return 0, err
	}
	return attemptNumber, nil
}

// ListStageAttempts returns the audit trail oldest-first.
func (r *PGRepo) ListStageAttempts(ctx context.Context, submissionID string) ([]StageAttempt, error) {
	const query = `
SELECT id, submission_id, stage, attempt_number, outcome, error_detail, created_at
FROM stage_attempts
WHERE submission_id = $1
ORDER BY id`

	rows, err := r.DB.QueryContext(ctx, query, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StageAttempt
	for rows.Next() {
		var a StageAttempt
		var errorDetail sql.NullString
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.Stage, &a.AttemptNumber, &a.Outcome, &errorDetail, &a.CreatedAt); err != nil {
			return nil, err
		}
		if errorDetail.Valid {
			a.ErrorDetail = errorDetail.String
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ Repo = (*PGRepo)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (Submission, error) {
	var sub Submission
	var callerName sql.NullString
	var failedStage sql.NullString
	var transcript sql.NullString
	var summary sql.NullString
	var sentiment sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime

	err := row.Scan(
		&sub.ID,
		&sub.TenantSlug,
		&callerName,
		&sub.AudioKey,
		&sub.AudioMime,
		&sub.AudioBytes,
		&sub.Status,
		&failedStage,
		&transcript,
		&summary,
		&sentiment,
		&sub.AttemptCount,
		&errorCode,
		&errorMessage,
		&sub.ErrorRetryable,
		&sub.CreatedAt,
		&sub.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return Submission{}, err
	}
	if callerName.Valid {
		sub.CallerName = callerName.String
	}
	if failedStage.Valid {
		sub.FailedStage = failedStage.String
	}
	if transcript.Valid {
		sub.Transcript = transcript.String
	}
	if summary.Valid {
		sub.Summary = summary.String
	}
	if sentiment.Valid {
		sub.Sentiment = sentiment.String
	}
	if errorCode.Valid {
		sub.ErrorCode = errorCode.String
	}
	if errorMessage.Valid {
		sub.ErrorMessage = errorMessage.String
	}
	if startedAt.Valid {
		sub.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		sub.CompletedAt = &completedAt.Time
	}
	return sub, nil
}
