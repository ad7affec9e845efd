package handler

import (
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"kidscanvas/internal/httputil"
	"kidscanvas/internal/service"
)

// ObjectHandler handles object-commit HTTP requests.
type ObjectHandler struct {
	objects *service.ObjectService
	logger  *slog.Logger
}

// NewObjectHandler creates a new object handler.
func NewObjectHandler(objects *service.ObjectService, logger *slog.Logger) *ObjectHandler {
	return &ObjectHandler{objects: objects, logger: logger}
}

type commitObjectRequest struct {
	OwnerID   string   `json:"owner_id"`
	StrokeIDs []string `json:"stroke_ids"`
	Label     *string  `json:"label"`
}

func (r commitObjectRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OwnerID, validation.Required, is.UUID),
		validation.Field(&r.StrokeIDs, validation.Required, validation.Length(1, 0),
			validation.Each(is.UUID), validation.By(noDuplicates)),
		validation.Field(&r.Label, validation.Length(0, 128)),
	)
}

func noDuplicates(value interface{}) error {
	ids, _ := value.([]string)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return errors.New("must not contain duplicates")
		}
		seen[id] = struct{}{}
	}
	return nil
}

// CommitObject groups strokes into an object and spawns its AI turn.
// POST /api/rooms/{room_id}/objects
func (h *ObjectHandler) CommitObject(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}
	roomID, ok := pathRoomID(w, r)
	if !ok {
		return
	}

	var req commitObjectRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ownerID, _ := uuid.Parse(req.OwnerID)
	if !enforceActor(w, subject, ownerID) {
		return
	}

	strokeIDs := make([]uuid.UUID, len(req.StrokeIDs))
	for i, raw := range req.StrokeIDs {
		strokeIDs[i], _ = uuid.Parse(raw)
	}

	result, err := h.objects.CommitObject(r.Context(), roomID, ownerID, strokeIDs, req.Label)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"object": result.Object,
		"turn":   result.Turn,
		"room": map[string]interface{}{
			"id":       result.Room.ID,
			"turn_seq": result.Room.TurnSeq,
		},
	})
}
