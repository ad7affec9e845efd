package handler

import (
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"kidscanvas/internal/httputil"
	"kidscanvas/internal/service"
)

// RoomHandler handles room lifecycle HTTP requests.
type RoomHandler struct {
	rooms  *service.RoomService
	logger *slog.Logger
}

// NewRoomHandler creates a new room handler.
func NewRoomHandler(rooms *service.RoomService, logger *slog.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, logger: logger}
}

type createRoomRequest struct {
	Name   string `json:"name"`
	HostID string `json:"host_id"`
}

func (r createRoomRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.HostID, validation.Required, is.UUID),
	)
}

// CreateRoom creates a room with the caller as host.
// POST /api/rooms
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}

	var req createRoomRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	hostID, _ := uuid.Parse(req.HostID)
	if !enforceActor(w, subject, hostID) {
		return
	}

	snapshot, err := h.rooms.CreateRoom(req.Name, hostID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, snapshot)
}

type joinRoomRequest struct {
	UserID string `json:"user_id"`
}

func (r joinRoomRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, is.UUID),
	)
}

// JoinRoom adds the caller to a room, idempotently, and returns the full
// room snapshot.
// POST /api/rooms/{room_id}/join
func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}
	roomID, ok := pathRoomID(w, r)
	if !ok {
		return
	}

	var req joinRoomRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID, _ := uuid.Parse(req.UserID)
	if !enforceActor(w, subject, userID) {
		return
	}

	snapshot, err := h.rooms.JoinRoom(roomID, userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, snapshot)
}
