package clinicapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies backend failures by how the calling workflow recovers.
type Kind int

const (
	// KindTransient covers network failures and 5xx responses. Retrying the
	// same call unchanged is safe; callers surface a retry affordance and
	// never auto-retry silently.
	KindTransient Kind = iota
	// KindConflict is a lost race for a slot or appointment mutation.
	KindConflict
	// KindNotFound means a stale identifier; the attempt must restart.
	KindNotFound
	// KindExpired means a time-boxed token lapsed (OTP past its expiry).
	KindExpired
	// KindInvalidCode is a wrong OTP code, retryable within the expiry window.
	KindInvalidCode
	// KindValidation is malformed input, reported per field.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindInvalidCode:
		return "invalid_code"
	case KindValidation:
		return "validation"
	default:
		return "transient"
	}
}

// Error is a classified failure from the clinical backend.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// Fields holds per-field validation messages for KindValidation.
	Fields map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("clinicapi: %s (status %d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("clinicapi: %s: %s", e.Kind, e.Message)
}

// KindOf extracts the failure kind, defaulting to KindTransient for
// unclassified errors (network failures, decode errors).
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransient
}

// IsConflict reports whether err is a slot/appointment race loss.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsNotFound reports whether err is a stale-identifier failure.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsExpired reports whether err is an expired OTP challenge.
func IsExpired(err error) bool { return is(err, KindExpired) }

// IsInvalidCode reports whether err is a wrong OTP code.
func IsInvalidCode(err error) bool { return is(err, KindInvalidCode) }

// IsValidation reports whether err carries per-field validation failures.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsTransient reports whether retrying the same call unchanged is safe.
func IsTransient(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindTransient
	}
	// Anything unclassified (timeouts, connection resets) is retryable.
	return err != nil
}

func is(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// errorBody is the backend's error payload.
type errorBody struct {
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Backend error codes distinguishing OTP confirm failures that share a 4xx status.
const (
	codeOTPExpired = "OTP_EXPIRED"
	codeOTPInvalid = "OTP_INVALID"
)

// classify maps an HTTP status plus decoded error payload to an Error.
func classify(status int, body errorBody) *Error {
	e := &Error{Status: status, Message: body.Message, Fields: body.Fields}
	switch {
	case status == http.StatusConflict:
		e.Kind = KindConflict
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusGone || body.Code == codeOTPExpired:
		e.Kind = KindExpired
	case body.Code == codeOTPInvalid:
		e.Kind = KindInvalidCode
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.Kind = KindValidation
	default:
		e.Kind = KindTransient
	}
	return e
}
