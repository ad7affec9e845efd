package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidscanvas/internal/auth"
	"kidscanvas/internal/domain/models"
	"kidscanvas/internal/eventstore"
	"kidscanvas/internal/httputil"
	"kidscanvas/internal/safety"
	"kidscanvas/internal/service"
	"kidscanvas/internal/store"
)

type apiFixture struct {
	store   *store.Store
	events  *eventstore.Memory
	rooms   *RoomHandler
	strokes *StrokeHandler
	objects *ObjectHandler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := testLogger()
	st, err := store.New()
	require.NoError(t, err)
	events := eventstore.NewMemory()
	moderation := safety.NewKeywordEngine(nil)

	return &apiFixture{
		store:   st,
		events:  events,
		rooms:   NewRoomHandler(service.NewRoomService(st, logger), logger),
		strokes: NewStrokeHandler(service.NewStrokeService(st, events, logger), logger),
		objects: NewObjectHandler(service.NewObjectService(st, events, moderation, logger), logger),
	}
}

func jsonRequest(method, target string, payload any, subject *auth.Subject) *http.Request {
	body, _ := json.Marshal(payload)
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if subject != nil {
		r = httputil.WithSubject(r, subject)
	}
	return r
}

func playerSubject() *auth.Subject {
	return &auth.Subject{UserID: uuid.New(), Role: auth.RolePlayer}
}

func TestCreateRoomHandler(t *testing.T) {
	f := newAPIFixture(t)
	subject := playerSubject()

	t.Run("created", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.rooms.CreateRoom(w, jsonRequest(http.MethodPost, "/api/rooms",
			map[string]any{"name": "doodles", "host_id": subject.UserID.String()}, subject))
		require.Equal(t, http.StatusCreated, w.Code)

		var snapshot service.RoomSnapshot
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
		assert.Equal(t, "doodles", snapshot.Room.Name)
		assert.Equal(t, models.RoleHost, snapshot.Member.Role)
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.rooms.CreateRoom(w, jsonRequest(http.MethodPost, "/api/rooms",
			map[string]any{"name": "x", "host_id": subject.UserID.String()}, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("player cannot create for someone else", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.rooms.CreateRoom(w, jsonRequest(http.MethodPost, "/api/rooms",
			map[string]any{"name": "x", "host_id": uuid.New().String()}, subject))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("moderator may act for a player", func(t *testing.T) {
		moderator := &auth.Subject{UserID: uuid.New(), Role: auth.RoleModerator}
		w := httptest.NewRecorder()
		f.rooms.CreateRoom(w, jsonRequest(http.MethodPost, "/api/rooms",
			map[string]any{"name": "x", "host_id": uuid.New().String()}, moderator))
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("validation", func(t *testing.T) {
		for name, payload := range map[string]map[string]any{
			"missing name":   {"host_id": subject.UserID.String()},
			"missing host":   {"name": "x"},
			"malformed host": {"name": "x", "host_id": "not-a-uuid"},
			"name too long":  {"name": strings.Repeat("a", 129), "host_id": subject.UserID.String()},
		} {
			w := httptest.NewRecorder()
			f.rooms.CreateRoom(w, jsonRequest(http.MethodPost, "/api/rooms", payload, subject))
			assert.Equal(t, http.StatusBadRequest, w.Code, name)
		}
	})
}

func TestJoinRoomHandler(t *testing.T) {
	f := newAPIFixture(t)
	host := playerSubject()
	guest := playerSubject()

	room := models.NewRoom("r")
	require.NoError(t, f.store.Update(func(tx *store.Tx) error {
		tx.SaveRoom(room)
		tx.SaveRoomMember(models.NewRoomMember(room.ID, host.UserID, models.RoleHost))
		return nil
	}))

	join := func(subject *auth.Subject, roomID string, userID string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := jsonRequest(http.MethodPost, "/api/rooms/"+roomID+"/join",
			map[string]any{"user_id": userID}, subject)
		r.SetPathValue("room_id", roomID)
		f.rooms.JoinRoom(w, r)
		return w
	}

	w := join(guest, room.ID.String(), guest.UserID.String())
	require.Equal(t, http.StatusOK, w.Code)
	var snapshot service.RoomSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, models.RoleParticipant, snapshot.Member.Role)
	assert.Len(t, snapshot.Members, 2)

	assert.Equal(t, http.StatusNotFound, join(guest, uuid.New().String(), guest.UserID.String()).Code)
	assert.Equal(t, http.StatusBadRequest, join(guest, "not-a-uuid", guest.UserID.String()).Code)
	assert.Equal(t, http.StatusForbidden, join(guest, room.ID.String(), uuid.New().String()).Code)
}

func TestCommitObjectHandler(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	owner := playerSubject()

	room := models.NewRoom("r")
	stroke := models.NewStroke(room.ID, owner.UserID, []models.Point{{X: 0, Y: 0}, {X: 4, Y: 4}}, "#000", 2)
	require.NoError(t, f.store.Update(func(tx *store.Tx) error {
		tx.SaveRoom(room)
		tx.SaveRoomMember(models.NewRoomMember(room.ID, owner.UserID, models.RoleHost))
		tx.SaveStroke(stroke)
		return nil
	}))

	commit := func(payload map[string]any) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := jsonRequest(http.MethodPost, "/api/rooms/"+room.ID.String()+"/objects", payload, owner)
		r.SetPathValue("room_id", room.ID.String())
		f.objects.CommitObject(w, r)
		return w
	}

	t.Run("validation", func(t *testing.T) {
		for name, payload := range map[string]map[string]any{
			"missing strokes": {"owner_id": owner.UserID.String()},
			"empty strokes":   {"owner_id": owner.UserID.String(), "stroke_ids": []string{}},
			"malformed id":    {"owner_id": owner.UserID.String(), "stroke_ids": []string{"nope"}},
			"duplicate ids": {"owner_id": owner.UserID.String(),
				"stroke_ids": []string{stroke.ID.String(), stroke.ID.String()}},
			"label too long": {"owner_id": owner.UserID.String(),
				"stroke_ids": []string{stroke.ID.String()},
				"label":      strings.Repeat("x", 129)},
		} {
			assert.Equal(t, http.StatusBadRequest, commit(payload).Code, name)
		}
	})

	t.Run("blocked label returns reasons", func(t *testing.T) {
		w := commit(map[string]any{
			"owner_id":   owner.UserID.String(),
			"stroke_ids": []string{stroke.ID.String()},
			"label":      "a weapon",
		})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var problem map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
		assert.Equal(t, []any{"weapon"}, problem["reasons"])
	})

	t.Run("committed", func(t *testing.T) {
		w := commit(map[string]any{
			"owner_id":   owner.UserID.String(),
			"stroke_ids": []string{stroke.ID.String()},
			"label":      "sun",
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var body struct {
			Object models.CanvasObject `json:"object"`
			Turn   models.Turn         `json:"turn"`
			Room   struct {
				ID      uuid.UUID `json:"id"`
				TurnSeq int       `json:"turn_seq"`
			} `json:"room"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, models.ObjectCommitted, body.Object.Status)
		assert.Equal(t, 1, body.Turn.Sequence)
		assert.Equal(t, 1, body.Room.TurnSeq)

		queue, err := f.events.ListQueue(ctx, eventstore.TurnQueueKey)
		require.NoError(t, err)
		assert.Len(t, queue, 1)
	})

	t.Run("conflict lists the offending strokes", func(t *testing.T) {
		w := commit(map[string]any{
			"owner_id":   owner.UserID.String(),
			"stroke_ids": []string{stroke.ID.String()},
		})
		require.Equal(t, http.StatusConflict, w.Code)
		var problem map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
		assert.Equal(t, []any{stroke.ID.String()}, problem["stroke_ids"])
	})
}

func TestCreateStrokeHandler(t *testing.T) {
	f := newAPIFixture(t)
	author := playerSubject()

	room := models.NewRoom("r")
	require.NoError(t, f.store.Update(func(tx *store.Tx) error {
		tx.SaveRoom(room)
		return nil
	}))

	w := httptest.NewRecorder()
	r := jsonRequest(http.MethodPost, "/api/rooms/"+room.ID.String()+"/strokes", map[string]any{
		"author_id": author.UserID.String(),
		"path":      []map[string]float64{{"x": 1, "y": 2}},
		"color":     "#00ff00",
		"width":     3,
	}, author)
	r.SetPathValue("room_id", room.ID.String())
	f.strokes.CreateStroke(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var stroke models.Stroke
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stroke))
	assert.Equal(t, room.ID, stroke.RoomID)
	assert.Equal(t, author.UserID, stroke.AuthorID)

	// Zero width fails the payload validator.
	w = httptest.NewRecorder()
	r = jsonRequest(http.MethodPost, "/api/rooms/"+room.ID.String()+"/strokes", map[string]any{
		"author_id": author.UserID.String(),
		"path":      []map[string]float64{{"x": 1, "y": 2}},
		"color":     "#00ff00",
		"width":     0,
	}, author)
	r.SetPathValue("room_id", room.ID.String())
	f.strokes.CreateStroke(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
