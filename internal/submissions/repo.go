package submissions

import "context"

// ListFilter narrows the admin submission listing. Zero values mean no
// filter.
type ListFilter struct {
	TenantSlug string
	Status     string
	Limit      int
	Offset     int
}

// Repo defines persistence for submissions and their stage attempt audit
// trail. Status moves only through the compare-and-transition operations
// below; an operation whose precondition does not hold affects zero rows
// and reports it, so two workers can never double-process one id.
type Repo interface {
	Create(ctx context.Context, sub Submission) error
	GetByID(ctx context.Context, id string) (Submission, error)
	List(ctx context.Context, filter ListFilter) ([]Submission, error)

	// Claim takes single ownership of a claimable submission for
	// leaseSeconds and increments attempt_count. received and in-flight
	// rows with an expired lease are claimed as-is; failed retryable rows
	// resume at their failed stage. Live-leased rows return
	// ErrAlreadyClaimed; terminal rows are returned unchanged with a nil
	// error so the caller can no-op.
	Claim(ctx context.Context, id string, leaseSeconds int) (Submission, error)

	// Advance moves received -> transcribing once the stored audio has
	// been verified non-empty.
	Advance(ctx context.Context, id, fromStatus, toStatus string) error

	// SetTranscript stores the transcript and moves transcribing ->
	// summarizing in one step, so a crash can never lose a paid-for
	// transcript without also rewinding the status.
	SetTranscript(ctx context.Context, id, transcript string) error

	// SetSummary stores summary + sentiment and moves summarizing ->
	// delivering.
	SetSummary(ctx context.Context, id, summary, sentiment string) error

	// MarkDelivered moves delivering -> delivered and stamps completed_at.
	MarkDelivered(ctx context.Context, id string) error

	// MarkFailed records a classified stage failure from any non-terminal
	// status. Permanent failures stamp completed_at; transient ones stay
	// open for the retry loop.
	MarkFailed(ctx context.Context, id, stage, code, message string, retryable bool) error

	// MarkExhausted converts a retryable failure to a permanent one after
	// the attempt budget is spent.
	MarkExhausted(ctx context.Context, id string) error

	// MarkCancelled moves any non-terminal status to cancelled.
	MarkCancelled(ctx context.Context, id string) error

	// CancelActiveForTenant cancels every non-terminal submission of a
	// tenant and returns how many were affected.
	CancelActiveForTenant(ctx context.Context, tenantSlug string) (int, error)

	// ResetForRetry re-arms a permanently failed submission for operator
	// retry: attempt budget back to zero, failure marked retryable.
	ResetForRetry(ctx context.Context, id string) error

	// AppendStageAttempt appends one audit record, assigning the next
	// per-stage attempt number. Returns the assigned number.
	AppendStageAttempt(ctx context.Context, submissionID, stage, outcome, errorDetail string) (int, error)

	// ListStageAttempts returns a submission's audit trail oldest-first.
	ListStageAttempts(ctx context.Context, submissionID string) ([]StageAttempt, error)
}
