package store

import (
	"sort"

	"github.com/google/uuid"

	"kidscanvas/internal/domain"
	"kidscanvas/internal/domain/models"
)

// Tx buffers mutations against a Store. Reads see committed state; the list
// helpers additionally surface entities saved earlier in the same
// transaction so a commit pipeline can observe its own writes.
type Tx struct {
	db *Store

	pendingRooms   []*models.Room
	pendingStrokes []*models.Stroke
	pendingMembers []*models.RoomMember
	pendingObjects []*models.CanvasObject
	updatedStrokes []*models.Stroke
	pendingTurns   []*models.Turn
	pendingAudits  []*models.AuditLog

	deferred []func() error
}

// Defer registers fn to run after the transaction commits, while the store
// mutex is still held. Event emissions go through here: a rolled-back
// transaction emits nothing, and an emission failure cannot undo committed
// state.
func (tx *Tx) Defer(fn func() error) {
	tx.deferred = append(tx.deferred, fn)
}

// runDeferred executes all deferred funcs in registration order. Every func
// runs even after a failure; the first error is returned.
func (tx *Tx) runDeferred() error {
	var first error
	for _, fn := range tx.deferred {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	tx.deferred = nil
	return first
}

func newTx(db *Store) *Tx {
	return &Tx{db: db}
}

// Rooms ---------------------------------------------------------------------

// SaveRoom buffers a room insert or update.
func (tx *Tx) SaveRoom(room *models.Room) {
	tx.pendingRooms = append(tx.pendingRooms, cloneRoom(room))
}

// GetRoom returns the committed room or room_not_found.
func (tx *Tx) GetRoom(roomID uuid.UUID) (*models.Room, error) {
	room, ok := tx.db.rooms[roomID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: domain.KindRoomNotFound}
	}
	return cloneRoom(room), nil
}

// Members -------------------------------------------------------------------

// SaveRoomMember buffers a membership insert.
func (tx *Tx) SaveRoomMember(member *models.RoomMember) {
	m := *member
	tx.pendingMembers = append(tx.pendingMembers, &m)
}

// GetRoomMember returns the committed membership or member_not_found.
func (tx *Tx) GetRoomMember(roomID, userID uuid.UUID) (*models.RoomMember, error) {
	member, ok := tx.db.members[memberKey{RoomID: roomID, UserID: userID}]
	if !ok {
		return nil, &domain.NotFoundError{Kind: domain.KindMemberNotFound}
	}
	m := *member
	return &m, nil
}

// ListRoomMembers returns members in join order, including ones saved in
// this transaction.
func (tx *Tx) ListRoomMembers(roomID uuid.UUID) []*models.RoomMember {
	var out []*models.RoomMember
	for _, userID := range tx.db.roomMemberIndex[roomID] {
		if member, ok := tx.db.members[memberKey{RoomID: roomID, UserID: userID}]; ok {
			m := *member
			out = append(out, &m)
		}
	}
	for _, member := range tx.pendingMembers {
		if member.RoomID == roomID {
			m := *member
			out = append(out, &m)
		}
	}
	return out
}

// Strokes -------------------------------------------------------------------

// SaveStroke buffers a stroke insert.
func (tx *Tx) SaveStroke(stroke *models.Stroke) {
	tx.pendingStrokes = append(tx.pendingStrokes, cloneStroke(stroke))
}

// GetStroke returns the committed stroke or stroke_not_found.
func (tx *Tx) GetStroke(strokeID uuid.UUID) (*models.Stroke, error) {
	stroke, ok := tx.db.strokes[strokeID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: domain.KindStrokeNotFound}
	}
	return cloneStroke(stroke), nil
}

// GetStrokes returns the strokes for the given ids in input order. It fails
// with stroke_not_found if any id is missing or belongs to a different room.
func (tx *Tx) GetStrokes(roomID uuid.UUID, strokeIDs []uuid.UUID) ([]*models.Stroke, error) {
	out := make([]*models.Stroke, 0, len(strokeIDs))
	for _, id := range strokeIDs {
		stroke, ok := tx.db.strokes[id]
		if !ok || stroke.RoomID != roomID {
			return nil, &domain.NotFoundError{Kind: domain.KindStrokeNotFound}
		}
		out = append(out, cloneStroke(stroke))
	}
	return out, nil
}

// ListStrokes returns the room's strokes ordered by timestamp ascending with
// a stable tie-break on id, including ones saved in this transaction.
func (tx *Tx) ListStrokes(roomID uuid.UUID) []*models.Stroke {
	var out []*models.Stroke
	for _, stroke := range tx.db.strokes {
		if stroke.RoomID == roomID {
			out = append(out, cloneStroke(stroke))
		}
	}
	for _, stroke := range tx.pendingStrokes {
		if stroke.RoomID == roomID {
			out = append(out, cloneStroke(stroke))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Ts.Equal(out[j].Ts) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Ts.Before(out[j].Ts)
	})
	return out
}

// UpdateStroke buffers the one-shot object assignment for a stroke.
func (tx *Tx) UpdateStroke(stroke *models.Stroke, objectID uuid.UUID) {
	updated := cloneStroke(stroke)
	id := objectID
	updated.ObjectID = &id
	tx.updatedStrokes = append(tx.updatedStrokes, updated)
}

// Objects -------------------------------------------------------------------

// SaveObject buffers an object insert.
func (tx *Tx) SaveObject(obj *models.CanvasObject) {
	o := *obj
	tx.pendingObjects = append(tx.pendingObjects, &o)
}

// GetObject returns the committed object or object_not_found.
func (tx *Tx) GetObject(objectID uuid.UUID) (*models.CanvasObject, error) {
	obj, ok := tx.db.objects[objectID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: domain.KindObjectNotFound}
	}
	o := *obj
	return &o, nil
}

// ListObjects returns the room's objects ordered by creation time.
func (tx *Tx) ListObjects(roomID uuid.UUID) []*models.CanvasObject {
	var out []*models.CanvasObject
	for _, obj := range tx.db.objects {
		if obj.RoomID == roomID {
			o := *obj
			out = append(out, &o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Turns ---------------------------------------------------------------------

// SaveTurn buffers a turn insert.
func (tx *Tx) SaveTurn(turn *models.Turn) {
	t := *turn
	tx.pendingTurns = append(tx.pendingTurns, &t)
}

// UpdateTurn buffers a turn state update.
func (tx *Tx) UpdateTurn(turn *models.Turn) {
	t := *turn
	tx.pendingTurns = append(tx.pendingTurns, &t)
}

// GetTurn returns the committed turn or turn_not_found.
func (tx *Tx) GetTurn(turnID uuid.UUID) (*models.Turn, error) {
	turn, ok := tx.db.turns[turnID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: domain.KindTurnNotFound}
	}
	t := *turn
	return &t, nil
}

// GetTurnsForRoom returns the room's turns in sequence order.
func (tx *Tx) GetTurnsForRoom(roomID uuid.UUID) []*models.Turn {
	var out []*models.Turn
	for _, turnID := range tx.db.roomTurnIndex[roomID] {
		if turn, ok := tx.db.turns[turnID]; ok {
			t := *turn
			out = append(out, &t)
		}
	}
	return out
}

// Audit logs ----------------------------------------------------------------

// AppendAuditLog buffers an audit entry. Audit logs are append-only.
func (tx *Tx) AppendAuditLog(log *models.AuditLog) {
	l := *log
	tx.pendingAudits = append(tx.pendingAudits, &l)
}

// ListAuditLogs returns committed audit logs ordered by timestamp,
// optionally filtered by room.
func (tx *Tx) ListAuditLogs(roomID *uuid.UUID) []*models.AuditLog {
	var out []*models.AuditLog
	for _, log := range tx.db.auditLogs {
		if roomID != nil && log.RoomID != *roomID {
			continue
		}
		l := *log
		out = append(out, &l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Ts.Equal(out[j].Ts) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Ts.Before(out[j].Ts)
	})
	return out
}

// commit applies all buffered mutations and reports whether anything
// changed. Must be called with the store mutex held.
func (tx *Tx) commit() bool {
	changed := len(tx.pendingRooms) > 0 ||
		len(tx.pendingStrokes) > 0 ||
		len(tx.pendingMembers) > 0 ||
		len(tx.pendingObjects) > 0 ||
		len(tx.updatedStrokes) > 0 ||
		len(tx.pendingTurns) > 0 ||
		len(tx.pendingAudits) > 0

	for _, room := range tx.pendingRooms {
		tx.db.rooms[room.ID] = room
	}
	for _, stroke := range tx.pendingStrokes {
		tx.db.strokes[stroke.ID] = stroke
	}
	for _, member := range tx.pendingMembers {
		key := memberKey{RoomID: member.RoomID, UserID: member.UserID}
		if _, exists := tx.db.members[key]; !exists {
			tx.db.roomMemberIndex[member.RoomID] = append(tx.db.roomMemberIndex[member.RoomID], member.UserID)
		}
		tx.db.members[key] = member
	}
	for _, obj := range tx.pendingObjects {
		tx.db.objects[obj.ID] = obj
	}
	for _, stroke := range tx.updatedStrokes {
		tx.db.strokes[stroke.ID] = stroke
	}
	for _, turn := range tx.pendingTurns {
		if _, exists := tx.db.turns[turn.ID]; !exists {
			tx.db.insertTurnIndex(turn)
		}
		tx.db.turns[turn.ID] = turn
	}
	for _, log := range tx.pendingAudits {
		tx.db.auditLogs[log.ID] = log
	}

	tx.pendingRooms = nil
	tx.pendingStrokes = nil
	tx.pendingMembers = nil
	tx.pendingObjects = nil
	tx.updatedStrokes = nil
	tx.pendingTurns = nil
	tx.pendingAudits = nil
	return changed
}

// insertTurnIndex keeps roomTurnIndex sorted by turn sequence.
func (s *Store) insertTurnIndex(turn *models.Turn) {
	ids := s.roomTurnIndex[turn.RoomID]
	pos := sort.Search(len(ids), func(i int) bool {
		return s.turns[ids[i]].Sequence > turn.Sequence
	})
	ids = append(ids, uuid.Nil)
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = turn.ID
	s.roomTurnIndex[turn.RoomID] = ids
}

func cloneRoom(room *models.Room) *models.Room {
	r := *room
	return &r
}

func cloneStroke(stroke *models.Stroke) *models.Stroke {
	s := *stroke
	s.Path = append([]models.Point(nil), stroke.Path...)
	if stroke.ObjectID != nil {
		id := *stroke.ObjectID
		s.ObjectID = &id
	}
	return &s
}
