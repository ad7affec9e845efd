package eventstore

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process EventStore backend. All operations are guarded by
// one mutex so queue pops, stream appends, and the timeline counter stay
// atomic relative to each other.
type Memory struct {
	mu        sync.Mutex
	queues    map[string][]map[string]any
	streams   map[string][]TopicEvent
	streamSeq map[string]int64
	timeline  []TopicEvent
	counter   int64
}

// NewMemory creates an empty in-memory event store.
func NewMemory() *Memory {
	return &Memory{
		queues:    make(map[string][]map[string]any),
		streams:   make(map[string][]TopicEvent),
		streamSeq: make(map[string]int64),
	}
}

// Push appends a payload to a FIFO queue.
func (m *Memory) Push(_ context.Context, key string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[key] = append(m.queues[key], payload)
	return nil
}

// Pop removes and returns the oldest queue payload, or nil when empty.
func (m *Memory) Pop(_ context.Context, key string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.queues[key]
	if len(items) == 0 {
		return nil, nil
	}
	head := items[0]
	m.queues[key] = items[1:]
	return head, nil
}

// ListQueue returns the queue contents without consuming them.
func (m *Memory) ListQueue(_ context.Context, key string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.queues[key]...), nil
}

// Append writes an event to a topic stream and replicates it into the
// global timeline with a fresh monotonic cursor.
func (m *Memory) Append(_ context.Context, stream string, event TopicEvent) (TopicEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	m.streamSeq[stream]++
	m.counter++
	event.Sequence = m.streamSeq[stream]
	event.Stream = stream
	event.Cursor = formatCursor(m.counter)

	m.streams[stream] = append(m.streams[stream], event)
	m.timeline = append(m.timeline, event)
	return event, nil
}

// ListStream returns all events appended to one topic stream.
func (m *Memory) ListStream(_ context.Context, stream string) ([]TopicEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TopicEvent(nil), m.streams[stream]...), nil
}

// NextTimelineEvent returns the first event strictly after the cursor.
func (m *Memory) NextTimelineEvent(_ context.Context, cursor string) (*TopicEvent, error) {
	pos, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The timeline is dense: the event with cursor value n sits at index n-1.
	if pos >= int64(len(m.timeline)) {
		return nil, nil
	}
	event := m.timeline[pos]
	return &event, nil
}

// ListTimeline returns up to limit events strictly after the cursor.
func (m *Memory) ListTimeline(_ context.Context, cursor string, limit int) ([]TopicEvent, error) {
	pos, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos >= int64(len(m.timeline)) {
		return nil, nil
	}
	rest := m.timeline[pos:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	return append([]TopicEvent(nil), rest...), nil
}

// Close clears all state.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = make(map[string][]map[string]any)
	m.streams = make(map[string][]TopicEvent)
	m.streamSeq = make(map[string]int64)
	m.timeline = nil
	m.counter = 0
	return nil
}
