package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"kidscanvas/internal/domain"
	"kidscanvas/internal/httputil"
)

// respondError maps domain errors onto RFC 7807 problem responses. Conflict
// and moderation errors carry machine-readable extras so clients can react
// without parsing detail strings.
func respondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var conflictErr *domain.ConflictError
	if errors.As(err, &conflictErr) {
		ids := make([]string, len(conflictErr.StrokeIDs))
		for i, id := range conflictErr.StrokeIDs {
			ids[i] = id.String()
		}
		httputil.RespondErrorWithExtras(w, http.StatusConflict,
			"One or more strokes already belong to an object",
			map[string]interface{}{"stroke_ids": ids})
		return
	}

	var unprocessableErr *domain.UnprocessableError
	if errors.As(err, &unprocessableErr) {
		httputil.RespondErrorWithExtras(w, http.StatusUnprocessableEntity,
			unprocessableErr.Code,
			map[string]interface{}{"reasons": unprocessableErr.Reasons})
		return
	}

	var httpErr domain.HTTPError
	if errors.As(err, &httpErr) {
		httputil.RespondError(w, httpErr.StatusCode(), httpErr.Error())
		return
	}

	logger.Error("unhandled error", "error", err)
	httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
}
