// Package ws serves per-room WebSocket subscriptions over the global event
// timeline. Each connection replays history from its cursor, then tails the
// timeline, forwarding only events for its room while still advancing the
// cursor past events for other rooms.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kidscanvas/internal/auth"
	"kidscanvas/internal/eventstore"
	"kidscanvas/internal/store"
)

const (
	replayBatchSize  = 50
	defaultTailPoll  = 500 * time.Millisecond
	closeGracePeriod = time.Second
)

// RoomSocketHandler upgrades room subscription requests and streams events.
type RoomSocketHandler struct {
	store        *store.Store
	events       eventstore.EventStore
	secret       string
	pollInterval time.Duration
	logger       *slog.Logger
	upgrader     websocket.Upgrader
}

// NewRoomSocketHandler creates a new room socket handler.
func NewRoomSocketHandler(st *store.Store, events eventstore.EventStore, secret string, logger *slog.Logger) *RoomSocketHandler {
	return &RoomSocketHandler{
		store:        st,
		events:       events,
		secret:       secret,
		pollInterval: defaultTailPoll,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; tokens carry
			// the trust.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe handles a room subscription. Authentication and authorization
// failures close the socket with 1008 (policy violation) after the upgrade,
// so clients always get a WebSocket-level close code rather than an HTTP
// error.
// GET /ws/rooms/{room_id}?token&cursor
func (h *RoomSocketHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	roomID, err := uuid.Parse(r.PathValue("room_id"))
	if err != nil {
		h.closePolicy(conn, "invalid room ID")
		return
	}

	subject, err := auth.DecodeToken(r.URL.Query().Get("token"), h.secret)
	if err != nil {
		h.closePolicy(conn, err.Error())
		return
	}

	if !h.authorized(roomID, subject) {
		h.closePolicy(conn, "not a member of this room")
		return
	}

	h.logger.Info("ws subscribed", "room_id", roomID, "user_id", subject.UserID)
	h.stream(conn, r, roomID)
}

// authorized admits moderators and parents to any room; players must be
// members of an existing room.
func (h *RoomSocketHandler) authorized(roomID uuid.UUID, subject *auth.Subject) bool {
	ok := false
	_ = h.store.View(func(tx *store.Tx) error {
		if _, err := tx.GetRoom(roomID); err != nil {
			return nil
		}
		if subject.Role != auth.RolePlayer {
			ok = true
			return nil
		}
		if _, err := tx.GetRoomMember(roomID, subject.UserID); err == nil {
			ok = true
		}
		return nil
	})
	return ok
}

// stream replays timeline history from the client's cursor, then tails the
// timeline until the client disconnects.
func (h *RoomSocketHandler) stream(conn *websocket.Conn, r *http.Request, roomID uuid.UUID) {
	ctx := r.Context()
	room := roomID.String()
	cursor := r.URL.Query().Get("cursor")

	// Detect client disconnects; inbound payloads are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		batch, err := h.events.ListTimeline(ctx, cursor, replayBatchSize)
		if err != nil {
			h.closePolicy(conn, "invalid cursor")
			return
		}
		for _, event := range batch {
			cursor = event.Cursor
			if event.RoomID != room {
				continue
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
		if len(batch) < replayBatchSize {
			break
		}
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for {
				event, err := h.events.NextTimelineEvent(ctx, cursor)
				if err != nil || event == nil {
					break
				}
				cursor = event.Cursor
				if event.RoomID != room {
					continue
				}
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			}
		}
	}
}

func (h *RoomSocketHandler) closePolicy(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(closeGracePeriod)
	message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, message, deadline)
}
