package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomRole is the role a user holds inside a room.
type RoomRole string

const (
	RoleHost        RoomRole = "host"
	RoleParticipant RoomRole = "participant"
)

// Room is a shared drawing canvas. TurnSeq increases by exactly one per
// committed object in the room.
type Room struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	TurnSeq   int       `json:"turn_seq"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRoom creates a room with a fresh ID and zero turn sequence.
func NewRoom(name string) *Room {
	return &Room{
		ID:        uuid.New(),
		Name:      name,
		TurnSeq:   0,
		CreatedAt: time.Now().UTC(),
	}
}

// RoomMember links a user to a room. Unique by (RoomID, UserID); the room
// creator is its sole host, everyone else joins as participant.
type RoomMember struct {
	RoomID   uuid.UUID `json:"room_id"`
	UserID   uuid.UUID `json:"user_id"`
	Role     RoomRole  `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// NewRoomMember creates a membership record with the current join time.
func NewRoomMember(roomID, userID uuid.UUID, role RoomRole) *RoomMember {
	return &RoomMember{
		RoomID:   roomID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
}
