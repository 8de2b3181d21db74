package provider

import "fmt"

// Kind splits adapter failures into the two retry classes.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

const (
	CodeTimeout            = "PROVIDER_TIMEOUT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUnavailable        = "PROVIDER_UNAVAILABLE"
	CodeTransport          = "TRANSPORT_ERROR"
	CodeAuthFailed         = "AUTH_FAILED"
	CodeUnsupportedContent = "UNSUPPORTED_CONTENT"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeEmptyResult        = "EMPTY_RESULT"
	CodeStorage            = "STORAGE_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is a classified adapter failure.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Code, e.Kind)
	}
	return fmt.Sprintf("%s (%s): %v", e.Code, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth another attempt.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

// Transient wraps err as a retryable failure.
func Transient(code string, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(code string, err error) *Error {
	return &Error{Kind: KindPermanent, Code: code, Err: err}
}

// FromHTTPStatus classifies a provider HTTP response status.
func FromHTTPStatus(status int, err error) *Error {
	switch {
	case status == 401 || status == 403:
		return Permanent(CodeAuthFailed, err)
	case status == 408:
		return Transient(CodeTimeout, err)
	case status == 413 || status == 415:
		return Permanent(CodeUnsupportedContent, err)
	case status == 429:
		return Transient(CodeRateLimited, err)
	case status >= 500:
		return Transient(CodeUnavailable, err)
	case status >= 400:
		return Permanent(CodeInvalidRequest, err)
	default:
		return Transient(CodeUnavailable, err)
	}
}
