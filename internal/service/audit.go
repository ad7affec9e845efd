package service

import (
	"github.com/google/uuid"

	"kidscanvas/internal/domain/models"
	"kidscanvas/internal/store"
)

// recordAuditEvent appends an audit log entry inside the caller's
// transaction. user and turn are optional.
func recordAuditEvent(tx *store.Tx, roomID uuid.UUID, eventType string, payload map[string]any, userID, turnID *uuid.UUID) *models.AuditLog {
	log := models.NewAuditLog(roomID, eventType, payload)
	log.UserID = userID
	log.TurnID = turnID
	tx.AppendAuditLog(log)
	return log
}
