package turnworker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidscanvas/internal/domain/models"
	"kidscanvas/internal/eventstore"
	"kidscanvas/internal/safety"
	"kidscanvas/internal/service"
	"kidscanvas/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store     *store.Store
	events    *eventstore.Memory
	processor *Processor
	event     TurnEvent
	agent     *httptest.Server
}

// newFixture commits a real object so a waiting_for_ai turn and its queue
// item exist, then binds a processor to the given agent handler.
func newFixture(t *testing.T, label *string, agentHandler http.HandlerFunc) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	st, err := store.New()
	require.NoError(t, err)
	events := eventstore.NewMemory()
	moderation := safety.NewKeywordEngine(nil)

	rooms := service.NewRoomService(st, logger)
	strokes := service.NewStrokeService(st, events, logger)
	objects := service.NewObjectService(st, events, moderation, logger)

	ownerID := uuid.New()
	created, err := rooms.CreateRoom("r", ownerID)
	require.NoError(t, err)
	stroke, err := strokes.CreateStroke(ctx, created.Room.ID, ownerID,
		[]models.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}, "#000", 2)
	require.NoError(t, err)
	result, err := objects.CommitObject(ctx, created.Room.ID, ownerID, []uuid.UUID{stroke.ID}, label)
	require.NoError(t, err)

	payload, err := events.Pop(ctx, eventstore.TurnQueueKey)
	require.NoError(t, err)
	require.NotNil(t, payload)
	event, err := DecodeTurnEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, result.Turn.ID, event.TurnID)

	agent := httptest.NewServer(agentHandler)
	t.Cleanup(agent.Close)

	processor := New(st, events, moderation, agent.URL, logger,
		WithHTTPClient(agent.Client()))

	return &fixture{store: st, events: events, processor: processor, event: event, agent: agent}
}

func (f *fixture) turn(t *testing.T) *models.Turn {
	t.Helper()
	var turn *models.Turn
	require.NoError(t, f.store.View(func(tx *store.Tx) error {
		got, err := tx.GetTurn(f.event.TurnID)
		require.NoError(t, err)
		turn = got
		return nil
	}))
	return turn
}

func (f *fixture) turnEvents(t *testing.T) []eventstore.TopicEvent {
	t.Helper()
	stream, err := f.events.ListStream(context.Background(), eventstore.EventStream)
	require.NoError(t, err)
	var out []eventstore.TopicEvent
	for _, event := range stream {
		if event.Topic == "turn" {
			out = append(out, event)
		}
	}
	return out
}

func agentReply(patch map[string]any, cacheDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"patch": patch, "cacheDir": cacheDir})
	}
}

func TestProcessEventCompletes(t *testing.T) {
	var gotRequest map[string]any
	f := newFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		agentReply(map[string]any{"mock": true}, "/tmp/ai")(w, r)
	})

	require.NoError(t, f.processor.ProcessEvent(context.Background(), f.event))

	// The agent saw the anchor region for the committed object.
	assert.Equal(t, f.event.RoomID.String(), gotRequest["roomId"])
	assert.Equal(t, f.event.ObjectID.String(), gotRequest["objectId"])
	assert.Contains(t, gotRequest["anchorRegion"], "outer")

	turn := f.turn(t)
	assert.Equal(t, models.TurnAICompleted, turn.Status)
	assert.Equal(t, models.ActorPlayer, turn.CurrentActor)
	require.NotNil(t, turn.SafetyStatus)
	assert.Equal(t, models.SafetyPassed, *turn.SafetyStatus)
	require.NotNil(t, turn.AIPatchURI)
	assert.Equal(t, "/tmp/ai", *turn.AIPatchURI)

	turnEvents := f.turnEvents(t)
	require.Len(t, turnEvents, 1)
	assert.Equal(t, string(models.TurnAICompleted), turnEvents[0].Payload["status"])
	assert.Equal(t, models.SafetyPassed, turnEvents[0].Payload["safetyStatus"])
	verdict := turnEvents[0].Payload["safety"].(map[string]any)
	assert.Equal(t, true, verdict["passed"])

	require.NoError(t, f.store.View(func(tx *store.Tx) error {
		var completed *models.AuditLog
		for _, log := range tx.ListAuditLogs(&f.event.RoomID) {
			if log.EventType == "turn.ai.completed" {
				completed = log
			}
		}
		require.NotNil(t, completed)
		assert.Equal(t, "ai_completed", completed.Payload["status"])
		assert.Equal(t, "/tmp/ai", completed.Payload["cache_dir"])
		return nil
	}))
}

func TestProcessEventBlockedByPolicy(t *testing.T) {
	f := newFixture(t, nil, agentReply(map[string]any{
		"instructions": "add spooky blood everywhere",
	}, ""))

	require.NoError(t, f.processor.ProcessEvent(context.Background(), f.event))

	turn := f.turn(t)
	assert.Equal(t, models.TurnBlocked, turn.Status)
	assert.Equal(t, models.ActorPlayer, turn.CurrentActor, "player regains the turn")
	require.NotNil(t, turn.SafetyStatus)
	assert.Equal(t, models.SafetyBlocked, *turn.SafetyStatus)
	assert.Nil(t, turn.AIPatchURI)

	turnEvents := f.turnEvents(t)
	require.Len(t, turnEvents, 1)
	assert.Equal(t, "policy_violation", turnEvents[0].Payload["reason"])
	verdict := turnEvents[0].Payload["safety"].(map[string]any)
	assert.Equal(t, false, verdict["passed"])
	assert.Contains(t, verdict["reasons"], "blood")
}

func TestProcessEventBlockedLabels(t *testing.T) {
	f := newFixture(t, nil, agentReply(map[string]any{
		"labels": []string{"tree", "weapon"},
	}, ""))

	require.NoError(t, f.processor.ProcessEvent(context.Background(), f.event))

	turn := f.turn(t)
	assert.Equal(t, models.TurnBlocked, turn.Status)
	require.NotNil(t, turn.SafetyStatus)
	assert.Equal(t, models.SafetyBlocked, *turn.SafetyStatus)
}

func TestProcessEventAgentFailure(t *testing.T) {
	f := newFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	require.NoError(t, f.processor.ProcessEvent(context.Background(), f.event))

	turn := f.turn(t)
	assert.Equal(t, models.TurnBlocked, turn.Status)
	assert.Equal(t, models.ActorAI, turn.CurrentActor, "agent failures leave the AI on the hook")
	require.NotNil(t, turn.SafetyStatus)
	assert.Equal(t, models.SafetyError, *turn.SafetyStatus)

	turnEvents := f.turnEvents(t)
	require.Len(t, turnEvents, 1)
	assert.Equal(t, models.SafetyError, turnEvents[0].Payload["safetyStatus"])
	assert.Equal(t, "agent returned status 500", turnEvents[0].Payload["reason"])
}

func TestProcessEventIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, agentReply(map[string]any{"mock": true}, ""))
	ctx := context.Background()

	require.NoError(t, f.processor.ProcessEvent(ctx, f.event))
	require.NoError(t, f.processor.ProcessEvent(ctx, f.event))

	assert.Len(t, f.turnEvents(t), 1, "duplicate delivery emits nothing")
	assert.Equal(t, models.TurnAICompleted, f.turn(t).Status)
}

func TestProcessEventUnknownTurn(t *testing.T) {
	f := newFixture(t, nil, agentReply(map[string]any{"mock": true}, ""))

	ghost := TurnEvent{TurnID: uuid.New(), RoomID: f.event.RoomID, ObjectID: f.event.ObjectID, Sequence: 9}
	require.NoError(t, f.processor.ProcessEvent(context.Background(), ghost))
	assert.Empty(t, f.turnEvents(t))
}

func TestStartStopLoop(t *testing.T) {
	f := newFixture(t, nil, agentReply(map[string]any{"mock": true}, ""))

	// Re-enqueue the event the fixture popped so the loop finds it.
	require.NoError(t, f.events.Push(context.Background(), eventstore.TurnQueueKey, map[string]any{
		"event":     "turn.waiting_for_ai",
		"turn_id":   f.event.TurnID.String(),
		"room_id":   f.event.RoomID.String(),
		"object_id": f.event.ObjectID.String(),
		"sequence":  f.event.Sequence,
	}))

	f.processor.pollInterval = 5 * time.Millisecond
	f.processor.Start()
	defer f.processor.Stop()

	require.Eventually(t, func() bool {
		return f.turn(t).Status == models.TurnAICompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopFinishesCurrentItem(t *testing.T) {
	inFlight := make(chan struct{})
	var once sync.Once
	f := newFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(inFlight) })
		time.Sleep(200 * time.Millisecond)
		agentReply(map[string]any{"mock": true}, "/tmp/ai")(w, r)
	})

	require.NoError(t, f.events.Push(context.Background(), eventstore.TurnQueueKey, map[string]any{
		"event":     "turn.waiting_for_ai",
		"turn_id":   f.event.TurnID.String(),
		"room_id":   f.event.RoomID.String(),
		"object_id": f.event.ObjectID.String(),
		"sequence":  f.event.Sequence,
	}))

	f.processor.pollInterval = 5 * time.Millisecond
	f.processor.Start()

	// Stop while the agent call is in flight. The worker must finish the
	// item rather than abort it into a blocked turn.
	<-inFlight
	f.processor.Stop()

	turn := f.turn(t)
	assert.Equal(t, models.TurnAICompleted, turn.Status)
	require.NotNil(t, turn.SafetyStatus)
	assert.Equal(t, models.SafetyPassed, *turn.SafetyStatus)
	assert.Len(t, f.turnEvents(t), 1)
}

func TestDecodeTurnEvent(t *testing.T) {
	turnID, roomID, objectID := uuid.New(), uuid.New(), uuid.New()

	t.Run("sequence as float64 after JSON round trip", func(t *testing.T) {
		event, err := DecodeTurnEvent(map[string]any{
			"turn_id":   turnID.String(),
			"room_id":   roomID.String(),
			"object_id": objectID.String(),
			"sequence":  float64(3),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, event.Sequence)
		assert.Equal(t, turnID, event.TurnID)
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := DecodeTurnEvent(map[string]any{
			"turn_id": turnID.String(),
			"room_id": roomID.String(),
		})
		assert.Error(t, err)
	})

	t.Run("malformed uuid", func(t *testing.T) {
		_, err := DecodeTurnEvent(map[string]any{
			"turn_id":   "nope",
			"room_id":   roomID.String(),
			"object_id": objectID.String(),
		})
		assert.Error(t, err)
	})
}
