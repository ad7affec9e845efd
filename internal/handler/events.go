package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"

	"kidscanvas/internal/auth"
	"kidscanvas/internal/eventstore"
	"kidscanvas/internal/httputil"
)

const (
	defaultTailLimit = 1
	maxTailLimit     = 100
)

// EventsHandler exposes the global timeline to trusted internal consumers:
// the realtime relay (service key) and moderation tooling (moderator or
// parent tokens).
type EventsHandler struct {
	events     eventstore.EventStore
	serviceKey string
	logger     *slog.Logger
}

// NewEventsHandler creates a new internal events handler.
func NewEventsHandler(events eventstore.EventStore, serviceKey string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{events: events, serviceKey: serviceKey, logger: logger}
}

// Next returns timeline events strictly after the cursor, or 204 when the
// timeline has nothing newer.
// GET /internal/events/next?cursor&limit
func (h *EventsHandler) Next(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	limit := defaultTailLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTailLimit {
			httputil.RespondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	cursor := r.URL.Query().Get("cursor")
	events, err := h.events.ListTimeline(r.Context(), cursor, limit)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid cursor")
		return
	}
	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"cursor": events[len(events)-1].Cursor,
		"events": events,
	})
}

// authorize admits either a matching service key or a moderator/parent
// token. Key comparison is constant time.
func (h *EventsHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if key := r.Header.Get("X-Service-Key"); key != "" {
		if h.serviceKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(h.serviceKey)) == 1 {
			return true
		}
		httputil.RespondError(w, http.StatusUnauthorized, "invalid_service_key")
		return false
	}

	subject := httputil.GetSubject(r)
	if subject == nil {
		httputil.RespondError(w, http.StatusUnauthorized, "missing_token")
		return false
	}
	if subject.Role != auth.RoleModerator && subject.Role != auth.RoleParent {
		httputil.RespondError(w, http.StatusForbidden, "Moderator or parent role required")
		return false
	}
	return true
}
