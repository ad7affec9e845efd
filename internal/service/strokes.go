package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kidscanvas/internal/domain"
	"kidscanvas/internal/domain/models"
	"kidscanvas/internal/eventstore"
	"kidscanvas/internal/store"
)

// StrokeService handles freehand stroke creation and listing, fanning each
// created stroke out on the ws:events topic stream.
type StrokeService struct {
	store  *store.Store
	events eventstore.EventStore
	logger *slog.Logger
}

// NewStrokeService creates a stroke service.
func NewStrokeService(st *store.Store, events eventstore.EventStore, logger *slog.Logger) *StrokeService {
	return &StrokeService{store: st, events: events, logger: logger}
}

// CreateStroke validates and persists a stroke, records the stroke.created
// audit entry, and appends a stroke topic event.
func (s *StrokeService) CreateStroke(ctx context.Context, roomID, authorID uuid.UUID, path []models.Point, color string, width float64) (*models.Stroke, error) {
	if len(path) == 0 {
		return nil, &domain.ValidationError{Message: "Path must contain at least one point"}
	}
	if width <= 0 {
		return nil, &domain.ValidationError{Message: "Width must be positive"}
	}

	var stroke *models.Stroke
	err := s.store.Update(func(tx *store.Tx) error {
		room, err := tx.GetRoom(roomID)
		if err != nil {
			return err
		}

		stroke = models.NewStroke(room.ID, authorID, path, color, width)
		tx.SaveStroke(stroke)

		recordAuditEvent(tx, room.ID, "stroke.created", map[string]any{
			"stroke_id": stroke.ID.String(),
			"color":     color,
			"width":     width,
			"points":    len(path),
		}, &authorID, nil)

		event := eventstore.TopicEvent{
			Topic:     "stroke",
			RoomID:    room.ID.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Payload:   stroke.WirePayload(),
		}
		tx.Defer(func() error {
			_, err := s.events.Append(ctx, eventstore.EventStream, event)
			return err
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stroke, nil
}

// ListStrokes returns the room's strokes in timestamp order.
func (s *StrokeService) ListStrokes(roomID uuid.UUID) ([]*models.Stroke, error) {
	var strokes []*models.Stroke
	err := s.store.View(func(tx *store.Tx) error {
		if _, err := tx.GetRoom(roomID); err != nil {
			return err
		}
		strokes = tx.ListStrokes(roomID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return strokes, nil
}
