package models

import (
	"time"

	"github.com/google/uuid"
)

// ObjectStatus tags the lifecycle of a canvas object. Only committed objects
// exist in the store today; draft is reserved.
type ObjectStatus string

const (
	ObjectDraft     ObjectStatus = "draft"
	ObjectCommitted ObjectStatus = "committed"
)

// BBox is an axis-aligned bounding box.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ToMap renders the bbox as a wire-friendly map.
func (b BBox) ToMap() map[string]float64 {
	return map[string]float64{
		"x":      b.X,
		"y":      b.Y,
		"width":  b.Width,
		"height": b.Height,
	}
}

// AnchorRing is a pair of nested boxes around a committed object. Inner
// equals the object's bbox; Outer is expanded by 40% of the larger dimension
// on all sides. It defines where an AI patch may draw.
type AnchorRing struct {
	Inner BBox `json:"inner"`
	Outer BBox `json:"outer"`
}

// ToMap renders the ring as a wire-friendly map.
func (r AnchorRing) ToMap() map[string]any {
	return map[string]any{
		"inner": r.Inner.ToMap(),
		"outer": r.Outer.ToMap(),
	}
}

// CanvasObject is a committed group of strokes awaiting (or having received)
// an AI continuation.
type CanvasObject struct {
	ID         uuid.UUID    `json:"id"`
	RoomID     uuid.UUID    `json:"room_id"`
	OwnerID    uuid.UUID    `json:"owner_id"`
	BBox       BBox         `json:"bbox"`
	AnchorRing AnchorRing   `json:"anchor_ring"`
	Status     ObjectStatus `json:"status"`
	Label      *string      `json:"label,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// NewCanvasObject creates a committed object with a fresh ID.
func NewCanvasObject(roomID, ownerID uuid.UUID, bbox BBox, ring AnchorRing, label *string) *CanvasObject {
	return &CanvasObject{
		ID:         uuid.New(),
		RoomID:     roomID,
		OwnerID:    ownerID,
		BBox:       bbox,
		AnchorRing: ring,
		Status:     ObjectCommitted,
		Label:      label,
		CreatedAt:  time.Now().UTC(),
	}
}
