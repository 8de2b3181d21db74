package submissions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores submissions in memory and is safe for concurrent use.
// It mirrors the Postgres compare-and-transition semantics, including the
// claim lease, so the pipeline behaves identically in dev and in tests.
type MemoryRepo struct {
	mu       sync.RWMutex
	byID     map[string]Submission
	leases   map[string]time.Time
	attempts map[string][]StageAttempt
	nextID   int64

	now func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:     make(map[string]Submission),
		leases:   make(map[string]time.Time),
		attempts: make(map[string][]StageAttempt),
		now:      time.Now,
	}
}

func (r *MemoryRepo) Create(ctx context.Context, sub Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub.UpdatedAt = sub.CreatedAt
	r.byID[sub.ID] = sub
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Submission, error) {
	if err := ctx.Err(); err != nil {
		return Submission{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byID[id]
	if !ok {
		return Submission{}, ErrNotFound
	}
	return sub, nil
}

func (r *MemoryRepo) List(ctx context.Context, filter ListFilter) ([]Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
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

	r.mu.RLock()
	all := make([]Submission, 0, len(r.byID))
	for _, sub := range r.byID {
		if filter.TenantSlug != "" && sub.TenantSlug != filter.TenantSlug {
			continue
		}
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		all = append(all, sub)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []Submission{}, nil
	}
	end := len(all)
	if offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (r *MemoryRepo) Claim(ctx context.Context, id string, leaseSeconds int) (Submission, error) {
	if err := ctx.Err(); err != nil {
		return Submission{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return Submission{}, ErrNotFound
	}
	if sub.Terminal() {
		return sub, nil
	}

	now := r.now().UTC()
	switch sub.Status {
	case StatusReceived, StatusTranscribing, StatusSummarizing, StatusDelivering:
		if lease, held := r.leases[id]; held && lease.After(now) {
			return sub, ErrAlreadyClaimed
		}
	case StatusFailed:
		// Terminal() above already rejected non-retryable failures.
		sub.Status = sub.FailedStage
		sub.FailedStage = ""
	}

	sub.AttemptCount++
	if sub.StartedAt == nil {
		sub.StartedAt = &now
	}
	sub.UpdatedAt = now
	r.leases[id] = now.Add(time.Duration(leaseSeconds) * time.Second)
	r.byID[id] = sub
	return sub, nil
}

func (r *MemoryRepo) Advance(ctx context.Context, id, fromStatus, toStatus string) error {
	return r.transition(ctx, id, fromStatus, func(sub *Submission) {
		sub.Status = toStatus
	})
}

func (r *MemoryRepo) SetTranscript(ctx context.Context, id, transcript string) error {
	return r.transition(ctx, id, StatusTranscribing, func(sub *Submission) {
		sub.Transcript = transcript
		sub.Status = StatusSummarizing
	})
}

func (r *MemoryRepo) SetSummary(ctx context.Context, id, summary, sentiment string) error {
	return r.transition(ctx, id, StatusSummarizing, func(sub *Submission) {
		sub.Summary = summary
		sub.Sentiment = sentiment
		sub.Status = StatusDelivering
	})
}

func (r *MemoryRepo) MarkDelivered(ctx context.Context, id string) error {
	return r.transition(ctx, id, StatusDelivering, func(sub *Submission) {
		sub.Status = StatusDelivered
		if sub.CompletedAt == nil {
			now := r.now().UTC()
			sub.CompletedAt = &now
		}
		delete(r.leases, id)
	})
}

func (r *MemoryRepo) MarkFailed(ctx context.Context, id, stage, code, message string, retryable bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if sub.Status == StatusDelivered || sub.Status == StatusCancelled {
		return ErrConflict
	}

	sub.Status = StatusFailed
	sub.FailedStage = stage
	sub.ErrorCode = code
	sub.ErrorMessage = message
	sub.ErrorRetryable = retryable
	if !retryable && sub.CompletedAt == nil {
		now := r.now().UTC()
		sub.CompletedAt = &now
	}
	sub.UpdatedAt = r.now().UTC()
	delete(r.leases, id)
	r.byID[id] = sub
	return nil
}

func (r *MemoryRepo) MarkExhausted(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if sub.Status != StatusFailed || !sub.ErrorRetryable {
		return ErrConflict
	}

	sub.ErrorRetryable = false
	if sub.CompletedAt == nil {
		now := r.now().UTC()
		sub.CompletedAt = &now
	}
	sub.UpdatedAt = r.now().UTC()
	delete(r.leases, id)
	r.byID[id] = sub
	return nil
}

func (r *MemoryRepo) MarkCancelled(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if !cancellable(sub) {
		return ErrNotCancellable
	}
	r.cancelLocked(id, sub)
	return nil
}

func (r *MemoryRepo) CancelActiveForTenant(ctx context.Context, tenantSlug string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cancelled := 0
	for id, sub := range r.byID {
		if sub.TenantSlug != tenantSlug || !cancellable(sub) {
			continue
		}
		r.cancelLocked(id, sub)
		cancelled++
	}
	return cancelled, nil
}

func (r *MemoryRepo) ResetForRetry(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if sub.Status != StatusFailed || sub.ErrorRetryable {
		return ErrNotRetryable
	}

	sub.ErrorRetryable = true
	sub.AttemptCount = 0
	sub.CompletedAt = nil
	sub.UpdatedAt = r.now().UTC()
	delete(r.leases, id)
	r.byID[id] = sub
	return nil
}

func (r *MemoryRepo) AppendStageAttempt(ctx context.Context, submissionID, stage, outcome, errorDetail string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	attemptNumber := 1
	for _, a := range r.attempts[submissionID] {
		if a.Stage == stage && a.AttemptNumber >= attemptNumber {
			attemptNumber = a.AttemptNumber + 1
		}
	}

	r.nextID++
	r.attempts[submissionID] = append(r.attempts[submissionID], StageAttempt{
		ID:            r.nextID,
		SubmissionID:  submissionID,
		Stage:         stage,
		AttemptNumber: attemptNumber,
		Outcome:       outcome,
		ErrorDetail:   errorDetail,
		CreatedAt:     r.now().UTC(),
	})
	return attemptNumber, nil
}

func (r *MemoryRepo) ListStageAttempts(ctx context.Context, submissionID string) ([]StageAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	attempts := r.attempts[submissionID]
	out := make([]StageAttempt, len(attempts))
	copy(out, attempts)
	return out, nil
}

func (r *MemoryRepo) transition(ctx context.Context, id, fromStatus string, apply func(*Submission)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if sub.Status != fromStatus {
		return ErrConflict
	}
	apply(&sub)
	sub.UpdatedAt = r.now().UTC()
	r.byID[id] = sub
	return nil
}

func (r *MemoryRepo) cancelLocked(id string, sub Submission) {
	sub.Status = StatusCancelled
	if sub.CompletedAt == nil {
		now := r.now().UTC()
		sub.CompletedAt = &now
	}
	sub.UpdatedAt = r.now().UTC()
	delete(r.leases, id)
	r.byID[id] = sub
}

func cancellable(sub Submission) bool {
	switch sub.Status {
	case StatusReceived, StatusTranscribing, StatusSummarizing, StatusDelivering:
		return true
	case StatusFailed:
		return sub.ErrorRetryable
	default:
		return false
	}
}

var _ Repo = (*MemoryRepo)(nil)
