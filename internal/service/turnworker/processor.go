// Package turnworker runs the background loop that consumes turn dispatch
// events, calls the external AI agent, moderates the generated patch, and
// drives each turn to its terminal state. Every terminal state emits one
// timeline event and one audit log entry, so subscribers always observe an
// outcome per turn.
package turnworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"kidscanvas/internal/domain/models"
	"kidscanvas/internal/eventstore"
	"kidscanvas/internal/safety"
	"kidscanvas/internal/store"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	agentRequestTimeout = 10 * time.Second
)

// TurnEvent is the decoded turn:events queue payload.
type TurnEvent struct {
	TurnID   uuid.UUID
	RoomID   uuid.UUID
	ObjectID uuid.UUID
	Sequence int
}

// DecodeTurnEvent parses a queue payload into a TurnEvent.
func DecodeTurnEvent(payload map[string]any) (TurnEvent, error) {
	turnID, err := parseUUIDField(payload, "turn_id")
	if err != nil {
		return TurnEvent{}, err
	}
	roomID, err := parseUUIDField(payload, "room_id")
	if err != nil {
		return TurnEvent{}, err
	}
	objectID, err := parseUUIDField(payload, "object_id")
	if err != nil {
		return TurnEvent{}, err
	}
	return TurnEvent{
		TurnID:   turnID,
		RoomID:   roomID,
		ObjectID: objectID,
		Sequence: parseIntField(payload, "sequence"),
	}, nil
}

func parseUUIDField(payload map[string]any, key string) (uuid.UUID, error) {
	raw, ok := payload[key].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("missing field %q", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return id, nil
}

// parseIntField tolerates both int and float64, depending on whether the
// payload round-tripped through JSON.
func parseIntField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Option configures a Processor.
type Option func(*Processor)

// WithPollInterval overrides the queue poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Processor) { p.pollInterval = d }
}

// WithHTTPClient injects an HTTP client; the processor then does not own or
// close it. Used by tests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Processor) {
		p.client = client
		p.ownsClient = false
	}
}

// Processor is the long-lived turn worker. It is started once per process
// and stopped cooperatively: Stop cancels the loop, which finishes the
// current item before exiting.
type Processor struct {
	store      *store.Store
	events     eventstore.EventStore
	moderation safety.Engine
	agentURL   string

	pollInterval time.Duration
	client       *http.Client
	ownsClient   bool
	logger       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a turn processor bound to the AI agent base URL.
func New(st *store.Store, events eventstore.EventStore, moderation safety.Engine, agentURL string, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:        st,
		events:       events,
		moderation:   moderation,
		agentURL:     strings.TrimRight(agentURL, "/"),
		pollInterval: defaultPollInterval,
		ownsClient:   true,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker loop. Calling Start on a running processor is a
// no-op.
func (p *Processor) Start() {
	if p.done != nil {
		return
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: agentRequestTimeout}
		p.ownsClient = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish its current
// item.
func (p *Processor) Stop() {
	if p.done == nil {
		return
	}
	p.cancel()
	<-p.done
	p.done = nil
	if p.ownsClient && p.client != nil {
		p.client.CloseIdleConnections()
		p.client = nil
	}
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)
	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := p.events.Pop(ctx, eventstore.TurnQueueKey)
		if err != nil {
			p.logger.Error("turn queue pop failed", "error", err)
			payload = nil
		}
		if payload == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		event, err := DecodeTurnEvent(payload)
		if err != nil {
			p.logger.Warn("invalid turn event payload", "payload", payload, "error", err)
			continue
		}

		// The loop context only governs polling. A popped item is processed
		// to its terminal state even when Stop has been called, so a cancel
		// mid-flight cannot block a turn that the agent would have completed.
		if err := p.ProcessEvent(context.WithoutCancel(ctx), event); err != nil {
			p.logger.Error("turn event processing failed", "turn_id", event.TurnID, "error", err)
		}
	}
}

// agentResponse is the AI agent's /generate reply.
type agentResponse struct {
	Patch    map[string]any `json:"patch"`
	CacheDir string         `json:"cacheDir"`
}

// ProcessEvent drives one turn event to a terminal state. It is exported so
// tests can exercise a single delivery without running the loop; duplicate
// deliveries are no-ops thanks to the waiting_for_ai snapshot guard.
func (p *Processor) ProcessEvent(ctx context.Context, event TurnEvent) error {
	obj, turn := p.loadTurnContext(event)
	if obj == nil || turn == nil {
		return nil
	}

	data, err := p.callAgent(ctx, event, obj)
	if err != nil {
		return p.markTurnBlockedError(ctx, event, err.Error())
	}

	patch := data.Patch
	if patch == nil {
		patch = map[string]any{}
	}

	summary := p.moderatePatch(patch, obj)
	if !summary.Passed {
		return p.markTurnBlockedPolicy(ctx, event, summary)
	}
	return p.markTurnCompleted(ctx, event, patch, data.CacheDir, summary)
}

// loadTurnContext snapshots the turn and object in a read-only transaction.
// A missing entity or a turn that already left waiting_for_ai skips the
// event silently.
func (p *Processor) loadTurnContext(event TurnEvent) (*models.CanvasObject, *models.Turn) {
	var obj *models.CanvasObject
	var turn *models.Turn
	_ = p.store.View(func(tx *store.Tx) error {
		t, err := tx.GetTurn(event.TurnID)
		if err != nil || t.Status != models.TurnWaitingForAI {
			return nil
		}
		o, err := tx.GetObject(event.ObjectID)
		if err != nil {
			return nil
		}
		obj = o
		turn = t
		return nil
	})
	return obj, turn
}

func (p *Processor) callAgent(ctx context.Context, event TurnEvent, obj *models.CanvasObject) (*agentResponse, error) {
	body, err := json.Marshal(map[string]any{
		"roomId":       event.RoomID.String(),
		"objectId":     event.ObjectID.String(),
		"anchorRegion": obj.AnchorRing.ToMap(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.agentURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	var data agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	return &data, nil
}

// moderatePatch evaluates patch.instructions and the object label as text
// and patch.labels as labels, aggregating the verdicts.
func (p *Processor) moderatePatch(patch map[string]any, obj *models.CanvasObject) safety.Summary {
	var results []safety.SafetyResult

	if instructions, ok := patch["instructions"].(string); ok && instructions != "" {
		results = append(results, p.moderation.EvaluateText(instructions))
	}
	if obj.Label != nil && *obj.Label != "" {
		results = append(results, p.moderation.EvaluateText(*obj.Label))
	}
	if labels := stringSlice(patch["labels"]); len(labels) > 0 {
		results = append(results, p.moderation.EvaluateLabels(labels))
	}

	return safety.Summarize(results...)
}

func stringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// markTurnCompleted transitions the turn to ai_completed. A no-op if the
// turn already left waiting_for_ai.
func (p *Processor) markTurnCompleted(ctx context.Context, event TurnEvent, patch map[string]any, cacheDir string, summary safety.Summary) error {
	return p.store.Update(func(tx *store.Tx) error {
		turn, err := tx.GetTurn(event.TurnID)
		if err != nil || turn.Status != models.TurnWaitingForAI {
			return nil
		}

		turn.Status = models.TurnAICompleted
		turn.CurrentActor = models.ActorPlayer
		status := models.SafetyPassed
		turn.SafetyStatus = &status
		turn.UpdatedAt = time.Now().UTC()
		if cacheDir != "" {
			uri := cacheDir
			turn.AIPatchURI = &uri
		}
		tx.UpdateTurn(turn)

		recordAudit(tx, turn, "turn.ai.completed", map[string]any{
			"sequence":  turn.Sequence,
			"patch":     patch,
			"cache_dir": cacheDir,
			"status":    string(turn.Status),
			"safety":    summary.ToMap(),
		})

		p.appendTurnEvent(ctx, tx, event, map[string]any{
			"turnId":       event.TurnID.String(),
			"sequence":     event.Sequence,
			"status":       string(models.TurnAICompleted),
			"safetyStatus": models.SafetyPassed,
			"safety":       summary.ToMap(),
			"patch":        patch,
		})
		return nil
	})
}

// markTurnBlockedPolicy blocks the turn after a failed moderation pass and
// hands control back to the player.
func (p *Processor) markTurnBlockedPolicy(ctx context.Context, event TurnEvent, summary safety.Summary) error {
	return p.store.Update(func(tx *store.Tx) error {
		turn, err := tx.GetTurn(event.TurnID)
		if err != nil || turn.Status != models.TurnWaitingForAI {
			return nil
		}

		turn.Status = models.TurnBlocked
		turn.CurrentActor = models.ActorPlayer
		status := models.SafetyBlocked
		turn.SafetyStatus = &status
		turn.UpdatedAt = time.Now().UTC()
		tx.UpdateTurn(turn)

		recordAudit(tx, turn, "turn.ai.blocked", map[string]any{
			"sequence": turn.Sequence,
			"reason":   "policy_violation",
			"safety":   summary.ToMap(),
		})

		p.appendTurnEvent(ctx, tx, event, map[string]any{
			"turnId":       event.TurnID.String(),
			"sequence":     event.Sequence,
			"status":       string(models.TurnBlocked),
			"safetyStatus": models.SafetyBlocked,
			"reason":       "policy_violation",
			"safety":       summary.ToMap(),
		})
		return nil
	})
}

// markTurnBlockedError blocks the turn after an agent transport failure or
// non-2xx response. The AI keeps the actor slot; there is no safety verdict
// to report, only the error text.
func (p *Processor) markTurnBlockedError(ctx context.Context, event TurnEvent, reason string) error {
	return p.store.Update(func(tx *store.Tx) error {
		turn, err := tx.GetTurn(event.TurnID)
		if err != nil || turn.Status != models.TurnWaitingForAI {
			return nil
		}

		turn.Status = models.TurnBlocked
		turn.CurrentActor = models.ActorAI
		status := models.SafetyError
		turn.SafetyStatus = &status
		turn.UpdatedAt = time.Now().UTC()
		tx.UpdateTurn(turn)

		recordAudit(tx, turn, "turn.ai.blocked", map[string]any{
			"sequence": turn.Sequence,
			"reason":   reason,
		})

		p.appendTurnEvent(ctx, tx, event, map[string]any{
			"turnId":       event.TurnID.String(),
			"sequence":     event.Sequence,
			"status":       string(models.TurnBlocked),
			"safetyStatus": models.SafetyError,
			"reason":       reason,
		})
		return nil
	})
}

// appendTurnEvent defers the timeline emission until the transition
// transaction commits, so a turn that stays waiting_for_ai never surfaces a
// terminal-state event.
func (p *Processor) appendTurnEvent(ctx context.Context, tx *store.Tx, event TurnEvent, payload map[string]any) {
	tx.Defer(func() error {
		_, err := p.events.Append(ctx, eventstore.EventStream, eventstore.TopicEvent{
			Topic:     "turn",
			RoomID:    event.RoomID.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Payload:   payload,
		})
		return err
	})
}

func recordAudit(tx *store.Tx, turn *models.Turn, eventType string, payload map[string]any) {
	log := models.NewAuditLog(turn.RoomID, eventType, payload)
	turnID := turn.ID
	log.TurnID = &turnID
	tx.AppendAuditLog(log)
}
