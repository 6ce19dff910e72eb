package domain

import (
	"errors"
	"fmt"
)

// Code is a stable, machine readable governance failure reason.
type Code string

const (
	CodeScopeViolation          Code = "SCOPE_VIOLATION"
	CodeToolNotAllowed          Code = "TOOL_NOT_ALLOWED"
	CodeUnsafeArgument          Code = "UNSAFE_ARGUMENT"
	CodeRateLimited             Code = "RATE_LIMITED"
	CodeInvalidTransition       Code = "INVALID_TRANSITION"
	CodeTokenInvalid            Code = "TOKEN_INVALID"
	CodeManualOnlyRefused       Code = "MANUAL_ONLY_REFUSED"
	CodeResourceLimitExceeded   Code = "RESOURCE_LIMIT_EXCEEDED"
	CodeEvidenceDeleteForbidden Code = "EVIDENCE_DELETE_FORBIDDEN"

	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidRequest    Code = "INVALID_REQUEST"
	CodeScopeLocked       Code = "SCOPE_LOCKED"
	CodeScopeNotLocked    Code = "SCOPE_NOT_LOCKED"
	CodeRunNotRunning     Code = "RUN_NOT_RUNNING"
	CodeIntegrityMismatch Code = "EVIDENCE_INTEGRITY_MISMATCH"
	CodeApproverConflict  Code = "APPROVER_CONFLICT"
	CodeExecutionFailed   Code = "EXECUTION_FAILED"
)

// Error carries a Code plus a human readable reason.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func WrapError(code Code, err error, reason string) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the Code carried by err, or "" when err is not a governance error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func ReasonOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
