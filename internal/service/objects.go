package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"kidscanvas/internal/domain"
	"kidscanvas/internal/domain/models"
	"kidscanvas/internal/eventstore"
	"kidscanvas/internal/safety"
	"kidscanvas/internal/store"
)

// minExtent keeps collapsed-to-line strokes addressable.
const minExtent = 1e-6

// anchorPaddingRatio expands the outer anchor box by 40% of the larger
// bbox dimension on every side.
const anchorPaddingRatio = 0.4

// CommitResult is the outcome of a successful object commit.
type CommitResult struct {
	Object *models.CanvasObject
	Turn   *models.Turn
	Room   *models.Room
}

// ObjectService runs the object-commit pipeline: stroke grouping, bbox and
// anchor-ring computation, label moderation, and the atomic write of the
// object, turn, audit trail, and fan-out events.
type ObjectService struct {
	store      *store.Store
	events     eventstore.EventStore
	moderation safety.Engine
	logger     *slog.Logger
}

// NewObjectService creates an object service.
func NewObjectService(st *store.Store, events eventstore.EventStore, moderation safety.Engine, logger *slog.Logger) *ObjectService {
	return &ObjectService{store: st, events: events, moderation: moderation, logger: logger}
}

// labelRejection carries a moderation verdict out of the aborted commit
// transaction so the audit trail can be written separately.
type labelRejection struct {
	label  string
	result safety.SafetyResult
}

var errLabelRejected = errors.New("label rejected")

// CommitObject groups strokes into a committed object and spawns its turn.
// All store writes happen in one transaction; a moderation rejection aborts
// the commit but still persists an object.blocked audit entry.
func (s *ObjectService) CommitObject(ctx context.Context, roomID, ownerID uuid.UUID, strokeIDs []uuid.UUID, label *string) (*CommitResult, error) {
	if len(strokeIDs) == 0 {
		return nil, &domain.ValidationError{Message: "At least one stroke must be provided"}
	}

	var result *CommitResult
	var rejection *labelRejection

	err := s.store.Update(func(tx *store.Tx) error {
		room, err := tx.GetRoom(roomID)
		if err != nil {
			return err
		}

		strokes, err := tx.GetStrokes(roomID, strokeIDs)
		if err != nil {
			return &domain.ValidationError{Message: "One or more strokes do not belong to the room"}
		}

		var assigned []uuid.UUID
		for _, stroke := range strokes {
			if stroke.ObjectID != nil {
				assigned = append(assigned, stroke.ID)
			}
		}
		if len(assigned) > 0 {
			return &domain.ConflictError{StrokeIDs: assigned}
		}

		bbox, err := computeBBox(strokes)
		if err != nil {
			return err
		}
		ring := computeAnchorRing(bbox)

		if label != nil && *label != "" {
			verdict := s.moderation.EvaluateText(*label)
			if !verdict.Passed {
				rejection = &labelRejection{label: *label, result: verdict}
				return errLabelRejected
			}
		}

		obj := models.NewCanvasObject(room.ID, ownerID, bbox, ring, label)
		tx.SaveObject(obj)

		for _, stroke := range strokes {
			tx.UpdateStroke(stroke, obj.ID)
		}

		ids := make([]string, len(strokeIDs))
		for i, id := range strokeIDs {
			ids[i] = id.String()
		}
		recordAuditEvent(tx, room.ID, "object.committed", map[string]any{
			"object_id":   obj.ID.String(),
			"stroke_ids":  ids,
			"bbox":        obj.BBox.ToMap(),
			"anchor_ring": obj.AnchorRing.ToMap(),
		}, &ownerID, nil)

		turn, err := createTurnForObject(ctx, tx, s.events, room, obj.ID, ownerID)
		if err != nil {
			return err
		}

		payload := objectWirePayload(obj, turn.ID)
		event := eventstore.TopicEvent{
			Topic:     "object",
			RoomID:    room.ID.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Payload:   payload,
		}
		tx.Defer(func() error {
			_, err := s.events.Append(ctx, eventstore.ObjectEventStream, event)
			return err
		})
		tx.Defer(func() error {
			_, err := s.events.Append(ctx, eventstore.EventStream, event)
			return err
		})

		result = &CommitResult{Object: obj, Turn: turn, Room: room}
		return nil
	})

	if errors.Is(err, errLabelRejected) && rejection != nil {
		return nil, s.rejectLabel(roomID, ownerID, rejection)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("object committed",
		"room_id", roomID,
		"object_id", result.Object.ID,
		"turn_sequence", result.Turn.Sequence,
	)
	return result, nil
}

// rejectLabel persists the object.blocked audit entry in its own committed
// transaction, then surfaces the machine-readable rejection.
func (s *ObjectService) rejectLabel(roomID, ownerID uuid.UUID, rejection *labelRejection) error {
	err := s.store.Update(func(tx *store.Tx) error {
		recordAuditEvent(tx, roomID, "object.blocked", map[string]any{
			"label":   rejection.label,
			"reasons": rejection.result.Reasons,
		}, &ownerID, nil)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to record object.blocked audit", "room_id", roomID, "error", err)
	}
	return &domain.UnprocessableError{Code: "label_blocked", Reasons: rejection.result.Reasons}
}

// computeBBox takes the min/max over every point of every stroke, flooring
// width and height at minExtent.
func computeBBox(strokes []*models.Stroke) (models.BBox, error) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	hasPoints := false
	for _, stroke := range strokes {
		for _, p := range stroke.Path {
			hasPoints = true
			minX = math.Min(minX, p.X)
			maxX = math.Max(maxX, p.X)
			minY = math.Min(minY, p.Y)
			maxY = math.Max(maxY, p.Y)
		}
	}
	if !hasPoints {
		return models.BBox{}, &domain.ValidationError{Message: "Strokes must contain at least one point"}
	}
	return models.BBox{
		X:      minX,
		Y:      minY,
		Width:  math.Max(maxX-minX, minExtent),
		Height: math.Max(maxY-minY, minExtent),
	}, nil
}

// computeAnchorRing surrounds the bbox with the padded outer box the AI
// patch may draw into.
func computeAnchorRing(bbox models.BBox) models.AnchorRing {
	padding := math.Max(bbox.Width, bbox.Height) * anchorPaddingRatio
	return models.AnchorRing{
		Inner: bbox,
		Outer: models.BBox{
			X:      bbox.X - padding,
			Y:      bbox.Y - padding,
			Width:  bbox.Width + padding*2,
			Height: bbox.Height + padding*2,
		},
	}
}

func objectWirePayload(obj *models.CanvasObject, turnID uuid.UUID) map[string]any {
	var label any
	if obj.Label != nil {
		label = *obj.Label
	}
	return map[string]any{
		"id":         obj.ID.String(),
		"roomId":     obj.RoomID.String(),
		"ownerId":    obj.OwnerID.String(),
		"label":      label,
		"status":     string(obj.Status),
		"bbox":       obj.BBox.ToMap(),
		"anchorRing": obj.AnchorRing.ToMap(),
		"createdAt":  obj.CreatedAt.Format(time.RFC3339Nano),
		"turnId":     turnID.String(),
	}
}
