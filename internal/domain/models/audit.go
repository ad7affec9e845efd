package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is an append-only record of a room event. Payload is a free-form
// structured value; event types follow the dotted convention
// (room.created, object.committed, turn.ai.blocked, ...).
type AuditLog struct {
	ID        uuid.UUID      `json:"id"`
	RoomID    uuid.UUID      `json:"room_id"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	TurnID    *uuid.UUID     `json:"turn_id,omitempty"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Ts        time.Time      `json:"ts"`
}

// NewAuditLog creates an audit entry with a fresh ID and current timestamp.
func NewAuditLog(roomID uuid.UUID, eventType string, payload map[string]any) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		RoomID:    roomID,
		EventType: eventType,
		Payload:   payload,
		Ts:        time.Now().UTC(),
	}
}
