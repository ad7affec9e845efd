// Package eventstore provides the two logical event surfaces of the game
// service: FIFO queues for worker dispatch (turn:*) and append-only topic
// streams (ws:*) that replicate every event into a globally ordered
// timeline consumed by WebSocket subscribers via opaque cursors.
package eventstore

import (
	"context"
	"fmt"
	"strconv"
)

// Well-known stream and queue keys.
const (
	TurnQueueKey      = "turn:events"
	EventStream       = "ws:events"
	ObjectEventStream = "ws:object-events"
	timelineKey       = "ws:timeline"
)

// TopicEvent is the structured record appended to topic streams. Sequence is
// per-stream; Cursor is globally monotonic and sorts lexicographically in
// insertion order.
type TopicEvent struct {
	Topic     string         `json:"topic"`
	RoomID    string         `json:"roomId"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	Sequence  int64          `json:"sequence,omitempty"`
	Stream    string         `json:"stream,omitempty"`
	Cursor    string         `json:"cursor,omitempty"`
}

// EventStore is the port shared by the in-memory backend (tests, default)
// and the Redis backend (production).
type EventStore interface {
	// Push appends a payload to a FIFO queue.
	Push(ctx context.Context, key string, payload map[string]any) error
	// Pop removes and returns the oldest queue payload, or nil when empty.
	// Each pushed item is visible to exactly one pop.
	Pop(ctx context.Context, key string) (map[string]any, error)
	// ListQueue returns the queue contents without consuming them.
	ListQueue(ctx context.Context, key string) ([]map[string]any, error)

	// Append writes an event to a topic stream and replicates it into the
	// global timeline. It returns the event augmented with its per-stream
	// sequence, stream name, and timeline cursor.
	Append(ctx context.Context, stream string, event TopicEvent) (TopicEvent, error)
	// ListStream returns all events appended to one topic stream.
	ListStream(ctx context.Context, stream string) ([]TopicEvent, error)

	// NextTimelineEvent returns the first timeline event strictly after the
	// cursor, or the first ever when cursor is empty. Returns nil when the
	// timeline has nothing newer.
	NextTimelineEvent(ctx context.Context, cursor string) (*TopicEvent, error)
	// ListTimeline returns up to limit timeline events strictly after the
	// cursor, in cursor order. limit <= 0 means no limit.
	ListTimeline(ctx context.Context, cursor string, limit int) ([]TopicEvent, error)

	// Close releases backend resources.
	Close() error
}

// formatCursor renders a timeline counter value as an opaque,
// order-preserving cursor string.
func formatCursor(n int64) string {
	return fmt.Sprintf("%020d", n)
}

// parseCursor decodes a cursor back to its counter value. An empty cursor
// means "before the first event". Malformed cursors are rejected so a
// client cannot silently skip ahead.
func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return n, nil
}
