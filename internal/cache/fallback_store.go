package cache

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/medquizpro/session-engine/internal/faults"
	"github.com/medquizpro/session-engine/internal/model"
	"github.com/rs/zerolog"
)

// FallbackStore wraps a durable store with an in-memory shadow. A failed
// durable write is classified as StorageFailed and the snapshot is kept in
// memory instead, so a cache outage degrades durability without ever
// blocking or failing a session mutation. Reads prefer the durable store
// and fall back to the shadow.
type FallbackStore struct {
	durable  SnapshotStore
	shadow   *MemoryStore
	tracker  *faults.Tracker
	log      zerolog.Logger
	degraded atomic.Bool
}

// NewFallbackStore wraps durable with degraded-mode handling.
func NewFallbackStore(durable SnapshotStore, tracker *faults.Tracker, log zerolog.Logger) *FallbackStore {
	return &FallbackStore{
		durable: durable,
		shadow:  NewMemoryStore(),
		tracker: tracker,
		log:     log.With().Str("component", "snapshot_cache").Logger(),
	}
}

// Degraded reports whether the store is currently running in-memory-only.
func (s *FallbackStore) Degraded() bool {
	return s.degraded.Load()
}

// Save implements SnapshotStore. The shadow write always happens so the
// in-process copy is never behind; the durable failure path only changes
// the degraded flag and the fault history.
func (s *FallbackStore) Save(ctx context.Context, snap model.Snapshot) error {
	_ = s.shadow.Save(ctx, snap)

	if err := s.durable.Save(ctx, snap); err != nil {
		s.tracker.Classify(faults.StorageFailed, err, map[string]string{
			"session_id": snap.Session.ID.String(),
			"user_id":    snap.Session.UserID,
			"op":         "save",
		})
		if s.degraded.CompareAndSwap(false, true) {
			s.log.Warn().Err(err).Msg("Durable cache write failed, entering in-memory-only mode")
		}
		return nil
	}

	if s.degraded.CompareAndSwap(true, false) {
		s.tracker.MarkRecovered(faults.StorageFailed, 0)
		s.log.Info().Msg("Durable cache recovered")
	}
	return nil
}

// Load implements SnapshotStore.
func (s *FallbackStore) Load(ctx context.Context, sessionID uuid.UUID) (*model.Snapshot, error) {
	snap, err := s.durable.Load(ctx, sessionID)
	if err == nil {
		return snap, nil
	}
	if err != ErrNotFound {
		s.tracker.Classify(faults.StorageFailed, err, map[string]string{
			"session_id": sessionID.String(),
			"op":         "load",
		})
	}
	return s.shadow.Load(ctx, sessionID)
}

// LoadByUser implements SnapshotStore.
func (s *FallbackStore) LoadByUser(ctx context.Context, userID string) (*model.Snapshot, error) {
	snap, err := s.durable.LoadByUser(ctx, userID)
	if err == nil {
		return snap, nil
	}
	if err != ErrNotFound {
		s.tracker.Classify(faults.StorageFailed, err, map[string]string{
			"user_id": userID,
			"op":      "load_by_user",
		})
	}
	return s.shadow.LoadByUser(ctx, userID)
}

// Delete implements SnapshotStore.
func (s *FallbackStore) Delete(ctx context.Context, sessionID uuid.UUID, userID string) error {
	_ = s.shadow.Delete(ctx, sessionID, userID)
	if err := s.durable.Delete(ctx, sessionID, userID); err != nil {
		s.tracker.Classify(faults.StorageFailed, err, map[string]string{
			"session_id": sessionID.String(),
			"op":         "delete",
		})
	}
	return nil
}
