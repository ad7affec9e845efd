package httputil

import (
	"context"
	"net/http"

	"kidscanvas/internal/auth"
)

// Context key type to avoid collisions
type contextKey string

const subjectKey contextKey = "subject"

// WithSubject attaches the authenticated subject to the request context.
func WithSubject(r *http.Request, subject *auth.Subject) *http.Request {
	ctx := context.WithValue(r.Context(), subjectKey, subject)
	return r.WithContext(ctx)
}

// GetSubject retrieves the authenticated subject, or nil when the request
// carried no valid token.
func GetSubject(r *http.Request) *auth.Subject {
	subject, _ := r.Context().Value(subjectKey).(*auth.Subject)
	return subject
}
