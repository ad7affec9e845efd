package service

import (
	"log/slog"

	"github.com/google/uuid"

	"kidscanvas/internal/domain/models"
	"kidscanvas/internal/store"
)

// RoomSnapshot is the full room state returned by create and join so a
// client can render the canvas without extra round trips.
type RoomSnapshot struct {
	Room    *models.Room           `json:"room"`
	Member  *models.RoomMember     `json:"member"`
	Members []*models.RoomMember   `json:"members"`
	Strokes []*models.Stroke       `json:"strokes"`
	Objects []*models.CanvasObject `json:"objects"`
	Turns   []*models.Turn         `json:"turns"`
}

// RoomService handles room lifecycle: creation and idempotent joins.
type RoomService struct {
	store  *store.Store
	logger *slog.Logger
}

// NewRoomService creates a room service.
func NewRoomService(st *store.Store, logger *slog.Logger) *RoomService {
	return &RoomService{store: st, logger: logger}
}

// CreateRoom creates a room with the caller as its sole host.
func (s *RoomService) CreateRoom(name string, hostID uuid.UUID) (*RoomSnapshot, error) {
	room := models.NewRoom(name)
	member := models.NewRoomMember(room.ID, hostID, models.RoleHost)

	err := s.store.Update(func(tx *store.Tx) error {
		tx.SaveRoom(room)
		tx.SaveRoomMember(member)
		recordAuditEvent(tx, room.ID, "room.created", map[string]any{
			"room_id": room.ID.String(),
			"name":    room.Name,
		}, &hostID, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("room created", "room_id", room.ID, "host_id", hostID)

	return &RoomSnapshot{
		Room:    room,
		Member:  member,
		Members: []*models.RoomMember{member},
		Strokes: []*models.Stroke{},
		Objects: []*models.CanvasObject{},
		Turns:   []*models.Turn{},
	}, nil
}

// JoinRoom adds the user as a participant, or returns the existing
// membership unchanged. Only a first join writes a room.joined audit entry.
func (s *RoomService) JoinRoom(roomID, userID uuid.UUID) (*RoomSnapshot, error) {
	var snapshot *RoomSnapshot

	err := s.store.Update(func(tx *store.Tx) error {
		room, err := tx.GetRoom(roomID)
		if err != nil {
			return err
		}

		member, err := tx.GetRoomMember(roomID, userID)
		isNewMember := err != nil
		if isNewMember {
			member = models.NewRoomMember(room.ID, userID, models.RoleParticipant)
			tx.SaveRoomMember(member)
			recordAuditEvent(tx, room.ID, "room.joined", map[string]any{
				"room_id": room.ID.String(),
				"role":    string(member.Role),
			}, &userID, nil)
		}

		snapshot = &RoomSnapshot{
			Room:    room,
			Member:  member,
			Members: tx.ListRoomMembers(room.ID),
			Strokes: tx.ListStrokes(room.ID),
			Objects: tx.ListObjects(room.ID),
			Turns:   tx.GetTurnsForRoom(room.ID),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}
