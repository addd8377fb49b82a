package llm

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/harunnryd/uketsuke/pkg/errorsx"
)

// ErrorKind classifies completion failures.
type ErrorKind string

const (
	KindUnavailable     ErrorKind = "backend_unavailable"
	KindRateLimited     ErrorKind = "rate_limited"
	KindInvalidResponse ErrorKind = "invalid_response"
	// KindRejected is a client error (bad request, auth) that a retry
	// cannot fix.
	KindRejected        ErrorKind = "request_rejected"
)

// BackendError is the only error shape a CompletionBackend returns for
// provider failures. Context errors pass through unwrapped.
type BackendError struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Err      error
}

func (e *BackendError) Error() string {
	msg := string(e.Kind)
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }

// RateLimited lets resilience.CircuitBreaker count throttling.
func (e *BackendError) RateLimited() bool { return e.Kind == KindRateLimited }

// Reason maps the kind onto a log reason code.
func (e *BackendError) Reason() errorsx.ReasonCode {
	switch e.Kind {
	case KindRateLimited:
		return errorsx.ReasonLLMRateLimit
	case KindInvalidResponse:
		return errorsx.ReasonLLMInvalidResponse
	case KindRejected:
		return errorsx.ReasonLLMRejected
	default:
		return errorsx.ReasonLLMGenerate
	}
}

func Unavailable(provider string, err error) error {
	return &BackendError{Kind: KindUnavailable, Provider: provider, Err: err}
}

func RateLimited(provider string, err error) error {
	return &BackendError{Kind: KindRateLimited, Provider: provider, Status: http.StatusTooManyRequests, Err: err}
}

func InvalidResponse(provider string, err error) error {
	return &BackendError{Kind: KindInvalidResponse, Provider: provider, Err: err}
}

// FromStatus classifies an HTTP failure status. 4xx other than 408 and 429
// is rejected; everything else is unavailable.
func FromStatus(provider string, status int, err error) error {
	kind := KindUnavailable
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestTimeout:
	case status >= 400 && status < 500:
		kind = KindRejected
	}
	return &BackendError{Kind: kind, Provider: provider, Status: status, Err: err}
}

// KindOf returns the kind of the first BackendError in the chain.
func KindOf(err error) (ErrorKind, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

func IsUnavailable(err error) bool     { return hasKind(err, KindUnavailable) }
func IsRateLimited(err error) bool     { return hasKind(err, KindRateLimited) }
func IsInvalidResponse(err error) bool { return hasKind(err, KindInvalidResponse) }
func IsRejected(err error) bool        { return hasKind(err, KindRejected) }

func hasKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ReasonOf returns a log reason for any error from a completion call.
func ReasonOf(err error) errorsx.ReasonCode {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Reason()
	}
	if r := errorsx.Reason(err); r != errorsx.ReasonUnknown {
		return r
	}
	return errorsx.ReasonLLMGenerate
}
