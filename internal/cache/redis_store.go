package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medquizpro/session-engine/internal/config"
	"github.com/medquizpro/session-engine/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps snapshots in Redis, one record per session id, with a
// user pointer for resume-by-user lookups.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore creates a RedisStore. retention bounds how long terminal
// snapshots survive before eviction.
func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, retention: retention}
}

// Save implements SnapshotStore.
func (s *RedisStore) Save(ctx context.Context, snap model.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapKey := config.CacheKey.SessionSnapshotKey(snap.Session.ID.String())
	userKey := config.CacheKey.UserActiveSessionKey(snap.Session.UserID)

	pipe := s.rdb.TxPipeline()
	if snap.Session.Status.Terminal() {
		// Terminal snapshots age out after the retention window and no
		// longer count as the user's active session.
		pipe.Set(ctx, snapKey, raw, s.retention)
		pipe.Del(ctx, userKey)
	} else {
		pipe.Set(ctx, snapKey, raw, 0)
		pipe.Set(ctx, userKey, snap.Session.ID.String(), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load implements SnapshotStore.
func (s *RedisStore) Load(ctx context.Context, sessionID uuid.UUID) (*model.Snapshot, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.SessionSnapshotKey(sessionID.String())).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// LoadByUser implements SnapshotStore.
func (s *RedisStore) LoadByUser(ctx context.Context, userID string) (*model.Snapshot, error) {
	idStr, err := s.rdb.Get(ctx, config.CacheKey.UserActiveSessionKey(userID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load active session pointer: %w", err)
	}

	sessionID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid session id in pointer: %w", err)
	}
	return s.Load(ctx, sessionID)
}

// Delete implements SnapshotStore.
func (s *RedisStore) Delete(ctx context.Context, sessionID uuid.UUID, userID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, config.CacheKey.SessionSnapshotKey(sessionID.String()))
	pipe.Del(ctx, config.CacheKey.UserActiveSessionKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
