package domain

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface enables extensible error handling.
type HTTPError interface {
	error
	StatusCode() int
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found. Kind carries the
	// entity-specific tag (room_not_found, stroke_not_found, ...).
	NotFoundError struct {
		Kind    string
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure. Kind distinguishes
	// missing_token, invalid_token, invalid_signature, token_expired,
	// invalid_subject, invalid_service_key.
	UnauthorizedError struct {
		Kind string
	}

	// ForbiddenError indicates authorization failure
	ForbiddenError struct {
		Message string
	}

	// InternalError wraps store or snapshot failures
	InternalError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind
}
func (e *ValidationError) Error() string   { return e.Message }
func (e *UnauthorizedError) Error() string { return e.Kind }
func (e *ForbiddenError) Error() string    { return e.Message }
func (e *InternalError) Error() string     { return e.Message }

// StatusCode implementations (HTTPError interface)
func (e *NotFoundError) StatusCode() int     { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int   { return http.StatusBadRequest }
func (e *UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }
func (e *ForbiddenError) StatusCode() int    { return http.StatusForbidden }
func (e *InternalError) StatusCode() int     { return http.StatusInternalServerError }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation failed")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrUnprocessable = errors.New("unprocessable")
)

func (e *NotFoundError) Is(target error) bool     { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool   { return target == ErrValidation }
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }
func (e *ForbiddenError) Is(target error) bool    { return target == ErrForbidden }

// ConflictError reports strokes that are already assigned to another object.
type ConflictError struct {
	Message   string
	StrokeIDs []uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	ids := make([]string, len(e.StrokeIDs))
	for i, id := range e.StrokeIDs {
		ids[i] = id.String()
	}
	return "strokes already assigned: " + strings.Join(ids, ", ")
}

func (e *ConflictError) StatusCode() int { return http.StatusConflict }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// UnprocessableError reports a moderation rejection with machine-readable
// reasons so clients can explain what was blocked.
type UnprocessableError struct {
	Code    string
	Reasons []string
}

func (e *UnprocessableError) Error() string {
	if len(e.Reasons) == 0 {
		return e.Code
	}
	return e.Code + ": " + strings.Join(e.Reasons, ", ")
}

func (e *UnprocessableError) StatusCode() int { return http.StatusUnprocessableEntity }

func (e *UnprocessableError) Is(target error) bool { return target == ErrUnprocessable }

// Not-found kind tags used by the store.
const (
	KindRoomNotFound   = "room_not_found"
	KindStrokeNotFound = "stroke_not_found"
	KindObjectNotFound = "object_not_found"
	KindTurnNotFound   = "turn_not_found"
	KindMemberNotFound = "member_not_found"
)
