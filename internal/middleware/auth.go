package middleware

import (
	"net/http"
	"strings"

	"kidscanvas/internal/auth"
	"kidscanvas/internal/httputil"
)

// Auth decodes an optional bearer token and attaches the subject to the
// request context. Requests without a token pass through untouched;
// handlers decide whether a subject is required. A malformed or expired
// token is rejected here with its distinct kind.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httputil.RespondError(w, http.StatusUnauthorized, "invalid_token")
				return
			}

			subject, err := auth.DecodeToken(token, secret)
			if err != nil {
				httputil.RespondError(w, http.StatusUnauthorized, err.Error())
				return
			}

			next.ServeHTTP(w, httputil.WithSubject(r, subject))
		})
	}
}
