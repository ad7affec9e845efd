package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidscanvas/internal/auth"
	"kidscanvas/internal/domain/models"
	"kidscanvas/internal/eventstore"
	"kidscanvas/internal/store"
)

const testSecret = "ws-test-secret"

type wsFixture struct {
	store   *store.Store
	events  *eventstore.Memory
	server  *httptest.Server
	room    *models.Room
	player  uuid.UUID
	handler *RoomSocketHandler
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New()
	require.NoError(t, err)
	events := eventstore.NewMemory()

	room := models.NewRoom("r")
	playerID := uuid.New()
	require.NoError(t, st.Update(func(tx *store.Tx) error {
		tx.SaveRoom(room)
		tx.SaveRoomMember(models.NewRoomMember(room.ID, playerID, models.RoleHost))
		return nil
	}))

	handler := NewRoomSocketHandler(st, events, testSecret, logger)
	handler.pollInterval = 10 * time.Millisecond

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/rooms/{room_id}", handler.Subscribe)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &wsFixture{store: st, events: events, server: server, room: room, player: playerID, handler: handler}
}

func (f *wsFixture) dial(t *testing.T, roomID, token, cursor string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/rooms/" + roomID + "?token=" + token
	if cursor != "" {
		url += "&cursor=" + cursor
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

func (f *wsFixture) token(t *testing.T, userID uuid.UUID, role auth.UserRole) string {
	t.Helper()
	token, err := auth.CreateAccessToken(userID, role, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func readEvent(t *testing.T, conn *websocket.Conn) eventstore.TopicEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event eventstore.TopicEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func expectPolicyClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestSubscribeReplaysAndTails(t *testing.T) {
	ctx := context.Background()
	f := newWSFixture(t)

	// Two events for this room, one for another room in between.
	e1, err := f.events.Append(ctx, eventstore.EventStream,
		eventstore.TopicEvent{Topic: "stroke", RoomID: f.room.ID.String()})
	require.NoError(t, err)
	_, err = f.events.Append(ctx, eventstore.EventStream,
		eventstore.TopicEvent{Topic: "stroke", RoomID: uuid.New().String()})
	require.NoError(t, err)
	e3, err := f.events.Append(ctx, eventstore.ObjectEventStream,
		eventstore.TopicEvent{Topic: "object", RoomID: f.room.ID.String()})
	require.NoError(t, err)

	conn, err := f.dial(t, f.room.ID.String(), f.token(t, f.player, auth.RolePlayer), "")
	require.NoError(t, err)

	// Replay skips the other room's event but keeps global order.
	assert.Equal(t, e1.Cursor, readEvent(t, conn).Cursor)
	assert.Equal(t, e3.Cursor, readEvent(t, conn).Cursor)

	// A live event arrives through the tail loop.
	e4, err := f.events.Append(ctx, eventstore.EventStream,
		eventstore.TopicEvent{Topic: "turn", RoomID: f.room.ID.String()})
	require.NoError(t, err)
	got := readEvent(t, conn)
	assert.Equal(t, e4.Cursor, got.Cursor)
	assert.Equal(t, "turn", got.Topic)
}

func TestSubscribeResumesFromCursor(t *testing.T) {
	ctx := context.Background()
	f := newWSFixture(t)

	e1, err := f.events.Append(ctx, eventstore.EventStream,
		eventstore.TopicEvent{Topic: "stroke", RoomID: f.room.ID.String()})
	require.NoError(t, err)
	e2, err := f.events.Append(ctx, eventstore.EventStream,
		eventstore.TopicEvent{Topic: "object", RoomID: f.room.ID.String()})
	require.NoError(t, err)

	conn, err := f.dial(t, f.room.ID.String(), f.token(t, f.player, auth.RolePlayer), e1.Cursor)
	require.NoError(t, err)
	assert.Equal(t, e2.Cursor, readEvent(t, conn).Cursor)
}

func TestSubscribeRejections(t *testing.T) {
	f := newWSFixture(t)
	playerToken := f.token(t, f.player, auth.RolePlayer)

	t.Run("bad token", func(t *testing.T) {
		conn, err := f.dial(t, f.room.ID.String(), "garbage", "")
		require.NoError(t, err, "the upgrade itself succeeds")
		expectPolicyClose(t, conn)
	})

	t.Run("unknown room", func(t *testing.T) {
		conn, err := f.dial(t, uuid.New().String(), playerToken, "")
		require.NoError(t, err)
		expectPolicyClose(t, conn)
	})

	t.Run("player who never joined", func(t *testing.T) {
		stranger := f.token(t, uuid.New(), auth.RolePlayer)
		conn, err := f.dial(t, f.room.ID.String(), stranger, "")
		require.NoError(t, err)
		expectPolicyClose(t, conn)
	})

	t.Run("moderator needs no membership", func(t *testing.T) {
		moderator := f.token(t, uuid.New(), auth.RoleModerator)
		conn, err := f.dial(t, f.room.ID.String(), moderator, "")
		require.NoError(t, err)

		// Prove the stream is live rather than closed.
		event, err := f.events.Append(context.Background(), eventstore.EventStream,
			eventstore.TopicEvent{Topic: "stroke", RoomID: f.room.ID.String()})
		require.NoError(t, err)
		assert.Equal(t, event.Cursor, readEvent(t, conn).Cursor)
	})
}
