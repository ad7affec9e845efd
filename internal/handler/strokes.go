package handler

import (
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"kidscanvas/internal/domain/models"
	"kidscanvas/internal/httputil"
	"kidscanvas/internal/service"
)

// StrokeHandler handles stroke HTTP requests.
type StrokeHandler struct {
	strokes *service.StrokeService
	logger  *slog.Logger
}

// NewStrokeHandler creates a new stroke handler.
func NewStrokeHandler(strokes *service.StrokeService, logger *slog.Logger) *StrokeHandler {
	return &StrokeHandler{strokes: strokes, logger: logger}
}

type pointPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type createStrokeRequest struct {
	AuthorID string         `json:"author_id"`
	Path     []pointPayload `json:"path"`
	Color    string         `json:"color"`
	Width    float64        `json:"width"`
}

func (r createStrokeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AuthorID, validation.Required, is.UUID),
		validation.Field(&r.Path, validation.Required, validation.Length(1, 0)),
		validation.Field(&r.Color, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Width, validation.Required, validation.Min(0.0).Exclusive()),
	)
}

// CreateStroke records a freehand stroke in a room.
// POST /api/rooms/{room_id}/strokes
func (h *StrokeHandler) CreateStroke(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}
	roomID, ok := pathRoomID(w, r)
	if !ok {
		return
	}

	var req createStrokeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	authorID, _ := uuid.Parse(req.AuthorID)
	if !enforceActor(w, subject, authorID) {
		return
	}

	path := make([]models.Point, len(req.Path))
	for i, p := range req.Path {
		path[i] = models.Point{X: p.X, Y: p.Y}
	}

	stroke, err := h.strokes.CreateStroke(r.Context(), roomID, authorID, path, req.Color, req.Width)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, stroke)
}

// ListStrokes returns a room's strokes in draw order.
// GET /api/rooms/{room_id}/strokes
func (h *StrokeHandler) ListStrokes(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSubject(w, r); !ok {
		return
	}
	roomID, ok := pathRoomID(w, r)
	if !ok {
		return
	}

	strokes, err := h.strokes.ListStrokes(roomID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{"strokes": strokes})
}
