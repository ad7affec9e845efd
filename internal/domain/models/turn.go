package models

import (
	"time"

	"github.com/google/uuid"
)

// TurnStatus is the turn state machine tag. A turn is created waiting_for_ai
// and transitions exactly once to ai_completed or blocked.
type TurnStatus string

const (
	TurnWaitingForAI TurnStatus = "waiting_for_ai"
	TurnAICompleted  TurnStatus = "ai_completed"
	TurnBlocked      TurnStatus = "blocked"
)

// TurnActor names whose move it is.
type TurnActor string

const (
	ActorPlayer TurnActor = "player"
	ActorAI     TurnActor = "ai"
)

// Safety status values recorded on terminal turns.
const (
	SafetyPassed  = "passed"
	SafetyBlocked = "blocked"
	SafetyError   = "error"
)

// Turn is one unit of AI-assisted continuation, spawned by an object commit.
// Unique by (RoomID, Sequence); sequences form a contiguous prefix
// 1..Room.TurnSeq.
type Turn struct {
	ID             uuid.UUID  `json:"id"`
	RoomID         uuid.UUID  `json:"room_id"`
	Sequence       int        `json:"sequence"`
	Status         TurnStatus `json:"status"`
	CurrentActor   TurnActor  `json:"current_actor"`
	SourceObjectID uuid.UUID  `json:"source_object_id"`
	AIPatchURI     *string    `json:"ai_patch_uri,omitempty"`
	SafetyStatus   *string    `json:"safety_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewTurn creates a turn in waiting_for_ai with the AI as current actor.
func NewTurn(roomID uuid.UUID, sequence int, sourceObjectID uuid.UUID) *Turn {
	now := time.Now().UTC()
	return &Turn{
		ID:             uuid.New(),
		RoomID:         roomID,
		Sequence:       sequence,
		Status:         TurnWaitingForAI,
		CurrentActor:   ActorAI,
		SourceObjectID: sourceObjectID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
