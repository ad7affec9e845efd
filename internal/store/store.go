// Package store is the single-writer transactional in-memory store for
// rooms, members, strokes, objects, turns, and audit logs. One global mutex
// serializes transactions; mutations are buffered per transaction and
// applied atomically on commit. A changed commit optionally persists a JSON
// snapshot via an atomic temp-then-rename write.
package store

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"kidscanvas/internal/domain/models"
)

type memberKey struct {
	RoomID uuid.UUID
	UserID uuid.UUID
}

// Store holds all entity maps plus secondary indexes. Tests instantiate
// independent stores; the server wires one per process.
type Store struct {
	mu sync.Mutex

	rooms     map[uuid.UUID]*models.Room
	strokes   map[uuid.UUID]*models.Stroke
	objects   map[uuid.UUID]*models.CanvasObject
	turns     map[uuid.UUID]*models.Turn
	auditLogs map[uuid.UUID]*models.AuditLog
	members   map[memberKey]*models.RoomMember

	roomMemberIndex map[uuid.UUID][]uuid.UUID // user ids in join order
	roomTurnIndex   map[uuid.UUID][]uuid.UUID // turn ids in sequence order

	snapshotPath string
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshotPath enables JSON snapshot persistence at the given path.
func WithSnapshotPath(path string) Option {
	return func(s *Store) { s.snapshotPath = path }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store and, when a snapshot path is configured and the file
// exists, reloads all entities and rebuilds the secondary indexes.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		rooms:           make(map[uuid.UUID]*models.Room),
		strokes:         make(map[uuid.UUID]*models.Stroke),
		objects:         make(map[uuid.UUID]*models.CanvasObject),
		turns:           make(map[uuid.UUID]*models.Turn),
		auditLogs:       make(map[uuid.UUID]*models.AuditLog),
		members:         make(map[memberKey]*models.RoomMember),
		roomMemberIndex: make(map[uuid.UUID][]uuid.UUID),
		roomTurnIndex:   make(map[uuid.UUID][]uuid.UUID),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.snapshotPath != "" {
		if err := s.loadSnapshot(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Update runs fn inside a read-write transaction. If fn returns an error,
// no buffered mutation becomes visible and no deferred emission runs. On a
// changed commit the snapshot is written; snapshot failures are logged and
// do not undo the commit. Deferred emissions run last, still under the
// mutex, so their order matches commit order.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	if tx.commit() {
		s.persistLocked()
	}
	return tx.runDeferred()
}

// View runs fn under the store mutex without committing anything. The
// transaction still accepts writes, but they are discarded.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(newTx(s))
}

func (s *Store) persistLocked() {
	if s.snapshotPath == "" {
		return
	}
	if err := s.writeSnapshotLocked(); err != nil {
		s.logger.Error("snapshot write failed", "path", s.snapshotPath, "error", err)
	}
}
