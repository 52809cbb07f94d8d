// Package cache is the local durable snapshot store. Every controller
// mutation is persisted here synchronously before the mutation returns, so
// a crash loses at most the in-flight network call, never the local fact of
// the mutation.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/medquizpro/session-engine/internal/model"
)

// ErrNotFound is returned when no snapshot exists for the key.
var ErrNotFound = errors.New("cache: snapshot not found")

// SnapshotStore persists the latest snapshot per session id, plus a pointer
// from user id to that user's active session.
type SnapshotStore interface {
	// Save writes the snapshot and, while the session is non-terminal,
	// the user's active-session pointer. Terminal snapshots get the
	// retention TTL applied and the pointer cleared.
	Save(ctx context.Context, snap model.Snapshot) error

	// Load returns the snapshot for a session id, or ErrNotFound.
	Load(ctx context.Context, sessionID uuid.UUID) (*model.Snapshot, error)

	// LoadByUser resolves the user's active session, or ErrNotFound.
	LoadByUser(ctx context.Context, userID string) (*model.Snapshot, error)

	// Delete removes the snapshot and any pointer to it.
	Delete(ctx context.Context, sessionID uuid.UUID, userID string) error
}

// Retention is how long terminal snapshots are kept before garbage
// collection. Zero keeps them forever.
type Retention time.Duration
