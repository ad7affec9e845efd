package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"kidscanvas/internal/domain/models"
)

// snapshotDoc is the on-disk schema. Entity JSON tags already carry the
// persistence field names, ISO-8601 timestamps, and canonical UUID strings.
type snapshotDoc struct {
	Rooms     []*models.Room         `json:"rooms"`
	Strokes   []*models.Stroke       `json:"strokes"`
	Objects   []*models.CanvasObject `json:"objects"`
	Turns     []*models.Turn         `json:"turns"`
	AuditLogs []*models.AuditLog     `json:"audit_logs"`
	Members   []*models.RoomMember   `json:"members"`
}

// writeSnapshotLocked serializes the full store and atomically replaces the
// snapshot file (write temp sibling, then rename). Must be called with the
// store mutex held.
func (s *Store) writeSnapshotLocked() error {
	doc := snapshotDoc{
		Rooms:     make([]*models.Room, 0, len(s.rooms)),
		Strokes:   make([]*models.Stroke, 0, len(s.strokes)),
		Objects:   make([]*models.CanvasObject, 0, len(s.objects)),
		Turns:     make([]*models.Turn, 0, len(s.turns)),
		AuditLogs: make([]*models.AuditLog, 0, len(s.auditLogs)),
		Members:   make([]*models.RoomMember, 0, len(s.members)),
	}
	for _, room := range s.rooms {
		doc.Rooms = append(doc.Rooms, room)
	}
	for _, stroke := range s.strokes {
		doc.Strokes = append(doc.Strokes, stroke)
	}
	for _, obj := range s.objects {
		doc.Objects = append(doc.Objects, obj)
	}
	for _, turn := range s.turns {
		doc.Turns = append(doc.Turns, turn)
	}
	for _, log := range s.auditLogs {
		doc.AuditLogs = append(doc.AuditLogs, log)
	}
	for _, member := range s.members {
		doc.Members = append(doc.Members, member)
	}

	// Deterministic file content regardless of map iteration order.
	sort.Slice(doc.Rooms, func(i, j int) bool { return doc.Rooms[i].ID.String() < doc.Rooms[j].ID.String() })
	sort.Slice(doc.Strokes, func(i, j int) bool { return doc.Strokes[i].ID.String() < doc.Strokes[j].ID.String() })
	sort.Slice(doc.Objects, func(i, j int) bool { return doc.Objects[i].ID.String() < doc.Objects[j].ID.String() })
	sort.Slice(doc.Turns, func(i, j int) bool { return doc.Turns[i].ID.String() < doc.Turns[j].ID.String() })
	sort.Slice(doc.AuditLogs, func(i, j int) bool { return doc.AuditLogs[i].ID.String() < doc.AuditLogs[j].ID.String() })
	sort.Slice(doc.Members, func(i, j int) bool {
		if doc.Members[i].RoomID == doc.Members[j].RoomID {
			return doc.Members[i].UserID.String() < doc.Members[j].UserID.String()
		}
		return doc.Members[i].RoomID.String() < doc.Members[j].RoomID.String()
	})

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmpPath := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o644); err != nil {
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.snapshotPath); err != nil {
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}

// loadSnapshot reconstructs all entity maps from the snapshot file and
// rebuilds the member and turn secondary indexes. A missing file is not an
// error; a fresh store starts empty.
func (s *Store) loadSnapshot() error {
	payload, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	for _, room := range doc.Rooms {
		s.rooms[room.ID] = room
	}
	for _, stroke := range doc.Strokes {
		s.strokes[stroke.ID] = stroke
	}
	for _, obj := range doc.Objects {
		s.objects[obj.ID] = obj
	}
	for _, turn := range doc.Turns {
		s.turns[turn.ID] = turn
	}
	for _, log := range doc.AuditLogs {
		s.auditLogs[log.ID] = log
	}
	for _, member := range doc.Members {
		s.members[memberKey{RoomID: member.RoomID, UserID: member.UserID}] = member
	}

	// Member index in join order.
	members := append([]*models.RoomMember(nil), doc.Members...)
	sort.SliceStable(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	for _, member := range members {
		s.roomMemberIndex[member.RoomID] = append(s.roomMemberIndex[member.RoomID], member.UserID)
	}

	// Turn index in sequence order.
	turns := append([]*models.Turn(nil), doc.Turns...)
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].RoomID == turns[j].RoomID {
			return turns[i].Sequence < turns[j].Sequence
		}
		return turns[i].RoomID.String() < turns[j].RoomID.String()
	})
	for _, turn := range turns {
		s.roomTurnIndex[turn.RoomID] = append(s.roomTurnIndex[turn.RoomID], turn.ID)
	}
	return nil
}
