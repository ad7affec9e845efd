package service

import (
	"context"

	"github.com/google/uuid"

	"kidscanvas/internal/domain/models"
	"kidscanvas/internal/eventstore"
	"kidscanvas/internal/store"
)

// createTurnForObject allocates the room's next turn sequence, persists the
// waiting_for_ai turn plus its turn.created audit entry, and schedules the
// dispatch item for the turn:events queue. Runs inside the object commit
// transaction so the sequence never skips nor repeats; the queue push is
// deferred until the transaction commits.
func createTurnForObject(ctx context.Context, tx *store.Tx, events eventstore.EventStore, room *models.Room, objectID, userID uuid.UUID) (*models.Turn, error) {
	room.TurnSeq++
	tx.SaveRoom(room)

	turn := models.NewTurn(room.ID, room.TurnSeq, objectID)
	tx.SaveTurn(turn)

	recordAuditEvent(tx, room.ID, "turn.created", map[string]any{
		"sequence":         turn.Sequence,
		"status":           string(turn.Status),
		"current_actor":    string(turn.CurrentActor),
		"source_object_id": objectID.String(),
	}, &userID, &turn.ID)

	tx.Defer(func() error {
		return events.Push(ctx, eventstore.TurnQueueKey, map[string]any{
			"event":     "turn.waiting_for_ai",
			"turn_id":   turn.ID.String(),
			"room_id":   room.ID.String(),
			"object_id": objectID.String(),
			"sequence":  turn.Sequence,
		})
	})
	return turn, nil
}
