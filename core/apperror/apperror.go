// Package apperror defines the client-facing error taxonomy of the job engine.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Codes surfaced to API clients
const (
	CodeCollabNotFoundOrForbidden = "COLLAB_NOT_FOUND_OR_FORBIDDEN"
	CodeNotAParticipant           = "NOT_A_PARTICIPANT"
	CodeRoleForbidden             = "ROLE_FORBIDDEN"
	CodeDatasetNotFound           = "DATASET_NOT_FOUND"
	CodeDatasetOrgNotParticipant  = "DATASET_ORG_NOT_PARTICIPANT"
	CodeMissingConsent            = "MISSING_CONSENT"

	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvalidState      = "INVALID_STATE"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeArtifactNotFound  = "ARTIFACT_NOT_FOUND"
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidEvent      = "INVALID_EVENT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL"
)

// Error is an error with a stable code and an HTTP status class
type Error struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given code and status
func New(status int, code, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Forbidden is a policy denial
func Forbidden(code string) *Error {
	return New(http.StatusForbidden, code, "job creation denied: "+code)
}

// Conflict is a lost or invalid state transition
func Conflict(code, message string) *Error {
	return New(http.StatusConflict, code, message)
}

// JobNotFound is returned both for missing jobs and jobs outside the caller's scope
func JobNotFound() *Error {
	return New(http.StatusNotFound, CodeJobNotFound, "job not found")
}

// Validation wraps an input validation failure
func Validation(err error) *Error {
	return &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: "validation failed", Err: err}
}

// Internal wraps an infrastructure failure
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal error", Err: err}
}

// As extracts an *Error from err's chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns err's code, or CodeInternal for untyped errors
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// StatusOf returns err's HTTP status, or 500 for untyped errors
func StatusOf(err error) int {
	if appErr, ok := As(err); ok && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
