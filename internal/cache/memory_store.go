package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/medquizpro/session-engine/internal/model"
)

// MemoryStore is an in-process SnapshotStore. It backs tests and the
// degraded in-memory-only mode entered when the durable store keeps
// failing; it does not survive a process restart.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]model.Snapshot
	byUser    map[string]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[uuid.UUID]model.Snapshot),
		byUser:    make(map[string]uuid.UUID),
	}
}

// Save implements SnapshotStore.
func (s *MemoryStore) Save(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Session.ID] = snap.Clone()
	if snap.Session.Status.Terminal() {
		delete(s.byUser, snap.Session.UserID)
	} else {
		s.byUser[snap.Session.UserID] = snap.Session.ID
	}
	return nil
}

// Load implements SnapshotStore.
func (s *MemoryStore) Load(_ context.Context, sessionID uuid.UUID) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := snap.Clone()
	return &out, nil
}

// LoadByUser implements SnapshotStore.
func (s *MemoryStore) LoadByUser(ctx context.Context, userID string) (*model.Snapshot, error) {
	s.mu.RLock()
	id, ok := s.byUser[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Load(ctx, id)
}

// Delete implements SnapshotStore.
func (s *MemoryStore) Delete(_ context.Context, sessionID uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	delete(s.byUser, userID)
	return nil
}
