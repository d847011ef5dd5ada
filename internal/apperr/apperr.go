// Package apperr defines the typed error taxonomy shared by every component.
// Errors are built where a rule is violated and translated to HTTP exactly
// once, at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindOwnership
	KindNotFound
	KindPlanRequired
	KindLocked
	KindUnavailable
)

// Status is the HTTP status code a kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden, KindOwnership:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindPlanRequired:
		return http.StatusPaymentRequired
	case KindLocked:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code is the stable machine-readable error code sent to clients.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindAuth:
		return "auth_required"
	case KindForbidden:
		return "forbidden"
	case KindOwnership:
		return "not_owner"
	case KindNotFound:
		return "not_found"
	case KindPlanRequired:
		return "plan_required"
	case KindLocked:
		return "locked"
	case KindUnavailable:
		return "service_unavailable"
	default:
		return "internal_error"
	}
}

// Error is the single concrete error type of the taxonomy.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }
func Auth(format string, args ...any) *Error       { return newf(KindAuth, format, args...) }
func Forbidden(format string, args ...any) *Error  { return newf(KindForbidden, format, args...) }
func Ownership(format string, args ...any) *Error  { return newf(KindOwnership, format, args...) }
func NotFound(format string, args ...any) *Error   { return newf(KindNotFound, format, args...) }
func Locked(format string, args ...any) *Error     { return newf(KindLocked, format, args...) }
func Unavailable(format string, args ...any) *Error {
	return newf(KindUnavailable, format, args...)
}

// PlanRequired carries the upgrade path the client needs to render a paywall.
func PlanRequired(requiredPlan, currentPlan, upgradeURL string) *Error {
	return &Error{
		Kind:    KindPlanRequired,
		Message: fmt.Sprintf("plan %q required", requiredPlan),
		Details: map[string]any{
			"requiredPlan": requiredPlan,
			"currentPlan":  currentPlan,
			"upgradeUrl":   upgradeURL,
		},
	}
}

// Internal wraps an unexpected failure. The message is for logs only.
func Internal(err error, format string, args ...any) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// WithErr attaches a cause, e.g. the flag resolver failure behind a 503.
func (e *Error) WithErr(err error) *Error {
	e.Err = err
	return e
}

// KindOf reports the kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// As unwraps the taxonomy error, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
