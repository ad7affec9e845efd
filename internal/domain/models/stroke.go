package models

import (
	"time"

	"github.com/google/uuid"
)

// Point is a single canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one freehand drawing gesture. A stroke belongs to exactly one
// room; ObjectID is set at most once, when the stroke is grouped into a
// committed object, and is immutable afterwards.
type Stroke struct {
	ID       uuid.UUID  `json:"id"`
	RoomID   uuid.UUID  `json:"room_id"`
	AuthorID uuid.UUID  `json:"author_id"`
	Path     []Point    `json:"path"`
	Color    string     `json:"color"`
	Width    float64    `json:"width"`
	Ts       time.Time  `json:"ts"`
	ObjectID *uuid.UUID `json:"object_id,omitempty"`
}

// NewStroke creates a stroke with a fresh ID and the current timestamp.
func NewStroke(roomID, authorID uuid.UUID, path []Point, color string, width float64) *Stroke {
	return &Stroke{
		ID:       uuid.New(),
		RoomID:   roomID,
		AuthorID: authorID,
		Path:     path,
		Color:    color,
		Width:    width,
		Ts:       time.Now().UTC(),
	}
}

// WirePayload renders the stroke in the camelCase shape used on topic
// streams and in room snapshots sent to clients.
func (s *Stroke) WirePayload() map[string]any {
	path := make([]map[string]float64, len(s.Path))
	for i, p := range s.Path {
		path[i] = map[string]float64{"x": p.X, "y": p.Y}
	}
	payload := map[string]any{
		"id":       s.ID.String(),
		"roomId":   s.RoomID.String(),
		"authorId": s.AuthorID.String(),
		"color":    s.Color,
		"width":    s.Width,
		"ts":       s.Ts.Format(time.RFC3339Nano),
		"path":     path,
	}
	if s.ObjectID != nil {
		payload["objectId"] = s.ObjectID.String()
	} else {
		payload["objectId"] = nil
	}
	return payload
}
