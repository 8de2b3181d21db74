package submissions

import "time"

const (
	StatusReceived     = "received"
	StatusTranscribing = "transcribing"
	StatusSummarizing  = "summarizing"
	StatusDelivering   = "delivering"
	StatusDelivered    = "delivered"
	StatusFailed       = "failed"
	StatusCancelled    = "cancelled"
)

const (
	StageReceived     = "received"
	StageTranscribing = "transcribing"
	StageSummarizing  = "summarizing"
	StageDelivering   = "delivering"
)

const (
	OutcomeSuccess          = "success"
	OutcomeTransientFailure = "transient-failure"
	OutcomePermanentFailure = "permanent-failure"
)

// Submission is one customer's voice feedback and its processing state.
// Mutated only through the repo's compare-and-transition operations.
type Submission struct {
	ID             string     `json:"submissionId"`
	TenantSlug     string     `json:"tenantSlug"`
	CallerName     string     `json:"callerName,omitempty"`
	AudioKey       string     `json:"-"`
	AudioMime      string     `json:"audioMime"`
	AudioBytes     int64      `json:"audioBytes"`
	Status         string     `json:"status"`
	FailedStage    string     `json:"failedStage,omitempty"`
	Transcript     string     `json:"transcript,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	Sentiment      string     `json:"sentiment,omitempty"`
	AttemptCount   int        `json:"attemptCount"`
	ErrorCode      string     `json:"errorCode,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	ErrorRetryable bool       `json:"errorRetryable"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Terminal reports whether no further processing can happen.
func (s Submission) Terminal() bool {
	switch s.Status {
	case StatusDelivered, StatusCancelled:
		return true
	case StatusFailed:
		return !s.ErrorRetryable
	default:
		return false
	}
}

// StageAttempt is one audit record for one stage execution. Append-only.
type StageAttempt struct {
	ID            int64     `json:"id"`
	SubmissionID  string    `json:"submissionId"`
	Stage         string    `json:"stage"`
	AttemptNumber int       `json:"attemptNumber"`
	Outcome       string    `json:"outcome"`
	ErrorDetail   string    `json:"errorDetail,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
