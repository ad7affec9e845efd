package handler

import (
	"net/http"

	"github.com/google/uuid"

	"kidscanvas/internal/auth"
	"kidscanvas/internal/httputil"
)

// requireSubject returns the authenticated subject or writes a 401. The auth
// middleware rejects bad tokens; a nil subject here means no token at all.
func requireSubject(w http.ResponseWriter, r *http.Request) (*auth.Subject, bool) {
	subject := httputil.GetSubject(r)
	if subject == nil {
		httputil.RespondError(w, http.StatusUnauthorized, "missing_token")
		return nil, false
	}
	return subject, true
}

// enforceActor ensures a player acts only as themselves. Moderators and
// parents may act on behalf of any user.
func enforceActor(w http.ResponseWriter, subject *auth.Subject, claimed uuid.UUID) bool {
	if subject.Role == auth.RolePlayer && subject.UserID != claimed {
		httputil.RespondError(w, http.StatusForbidden, "Players may only act as themselves")
		return false
	}
	return true
}

// pathRoomID extracts and parses the {room_id} path segment.
func pathRoomID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(r.PathValue("room_id"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid room ID")
		return uuid.Nil, false
	}
	return roomID, true
}
