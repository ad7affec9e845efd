package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const streamSeqPrefix = "ws:stream-seq:"

// Redis is the production EventStore backend. Queues and streams are Redis
// lists; per-stream sequences come from INCR counters, and the timeline
// cursor is derived from the timeline list position so cursors stay dense
// and monotonic. The service holds the store mutex while appending, so the
// read-modify-write on the timeline entry is single-writer.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis event store from a redis:// URL.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// NewRedisWithClient wraps an existing client, used by tests.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Push appends a payload to a FIFO queue.
func (r *Redis) Push(ctx context.Context, key string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}
	if err := r.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// Pop removes and returns the oldest queue payload, or nil when empty.
func (r *Redis) Pop(ctx context.Context, key string) (map[string]any, error) {
	raw, err := r.client.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lpop %s: %w", key, err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode queue payload: %w", err)
	}
	return payload, nil
}

// ListQueue returns the queue contents without consuming them.
func (r *Redis) ListQueue(ctx context.Context, key string) ([]map[string]any, error) {
	raws, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	out := make([]map[string]any, 0, len(raws))
	for _, raw := range raws {
		var payload map[string]any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("decode queue payload: %w", err)
		}
		out = append(out, payload)
	}
	return out, nil
}

// Append writes an event to a topic stream and replicates it into the
// global timeline.
func (r *Redis) Append(ctx context.Context, stream string, event TopicEvent) (TopicEvent, error) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	seq, err := r.client.Incr(ctx, streamSeqPrefix+stream).Result()
	if err != nil {
		return TopicEvent{}, fmt.Errorf("incr stream sequence: %w", err)
	}
	event.Sequence = seq
	event.Stream = stream

	// Reserve the timeline slot first; the list length is the cursor value.
	placeholder, err := json.Marshal(event)
	if err != nil {
		return TopicEvent{}, fmt.Errorf("marshal event: %w", err)
	}
	pos, err := r.client.RPush(ctx, timelineKey, placeholder).Result()
	if err != nil {
		return TopicEvent{}, fmt.Errorf("rpush timeline: %w", err)
	}
	event.Cursor = formatCursor(pos)

	full, err := json.Marshal(event)
	if err != nil {
		return TopicEvent{}, fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.LSet(ctx, timelineKey, pos-1, full).Err(); err != nil {
		return TopicEvent{}, fmt.Errorf("lset timeline: %w", err)
	}
	if err := r.client.RPush(ctx, stream, full).Err(); err != nil {
		return TopicEvent{}, fmt.Errorf("rpush %s: %w", stream, err)
	}
	return event, nil
}

// ListStream returns all events appended to one topic stream.
func (r *Redis) ListStream(ctx context.Context, stream string) ([]TopicEvent, error) {
	return r.rangeEvents(ctx, stream, 0, -1)
}

// NextTimelineEvent returns the first event strictly after the cursor.
func (r *Redis) NextTimelineEvent(ctx context.Context, cursor string) (*TopicEvent, error) {
	pos, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	raw, err := r.client.LIndex(ctx, timelineKey, pos).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lindex timeline: %w", err)
	}
	var event TopicEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("decode timeline event: %w", err)
	}
	return &event, nil
}

// ListTimeline returns up to limit events strictly after the cursor.
func (r *Redis) ListTimeline(ctx context.Context, cursor string, limit int) ([]TopicEvent, error) {
	pos, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	end := int64(-1)
	if limit > 0 {
		end = pos + int64(limit) - 1
	}
	return r.rangeEvents(ctx, timelineKey, pos, end)
}

func (r *Redis) rangeEvents(ctx context.Context, key string, start, end int64) ([]TopicEvent, error) {
	raws, err := r.client.LRange(ctx, key, start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	out := make([]TopicEvent, 0, len(raws))
	for _, raw := range raws {
		var event TopicEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, event)
	}
	return out, nil
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
