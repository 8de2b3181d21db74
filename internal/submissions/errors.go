package submissions

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("submission not found")
	ErrAlreadyClaimed = errors.New("submission already claimed")
	ErrConflict       = errors.New("submission status changed")
	ErrNotRetryable   = errors.New("submission is not in a retryable state")
	ErrNotCancellable = errors.New("submission is not in a cancellable state")
)

const (
	ErrorCodeEmptyAudio = "EMPTY_AUDIO"
	ErrorCodeQueue      = "QUEUE_ERROR"
)

// ValidationError is an intake rejection. Surfaces as a 4xx and is never
// enqueued.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func validationErr(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// StageError reports a stage failure to the worker loop, which decides
// between backoff re-enqueue and giving up based on Retryable and the
// attempt budget.
type StageError struct {
	Stage     string
	Code      string
	Retryable bool
	Attempt   int
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s, retryable=%t): %v", e.Stage, e.Code, e.Retryable, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
