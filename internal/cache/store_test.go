package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquizpro/session-engine/internal/faults"
	"github.com/medquizpro/session-engine/internal/model"
)

func testSnapshot(userID string, status model.SessionStatus) model.Snapshot {
	sessionID := uuid.New()
	return model.Snapshot{
		Session: model.Session{
			ID:           sessionID,
			UserID:       userID,
			Mode:         model.ModeQuick,
			Status:       status,
			QuestionIDs:  []string{"q1", "q2", "q3", "q4", "q5"},
			CurrentIndex: 1,
			StartedAt:    time.Now().UTC().Truncate(time.Second),
		},
		Answers: []model.AnswerRecord{
			{SessionID: sessionID, QuestionID: "q1", SelectedOption: "A", SyncState: model.SyncStatePending},
		},
		SavedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	snap := testSnapshot("user-1", model.SessionStatusActive)

	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx, snap.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Session.ID, got.Session.ID)
	assert.Len(t, got.Answers, 1)

	byUser, err := s.LoadByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, snap.Session.ID, byUser.Session.ID)

	_, err = s.Load(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreClonesOnLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	snap := testSnapshot("user-1", model.SessionStatusActive)
	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx, snap.Session.ID)
	require.NoError(t, err)
	got.Answers[0].SelectedOption = "mutated"
	got.Session.QuestionIDs[0] = "mutated"

	again, err := s.Load(ctx, snap.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", again.Answers[0].SelectedOption)
	assert.Equal(t, "q1", again.Session.QuestionIDs[0])
}

func TestMemoryStoreTerminalClearsUserPointer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	snap := testSnapshot("user-1", model.SessionStatusActive)
	require.NoError(t, s.Save(ctx, snap))

	snap.Session.Status = model.SessionStatusCompleted
	require.NoError(t, s.Save(ctx, snap))

	_, err := s.LoadByUser(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound, "terminal session is no longer the active one")

	// The snapshot itself remains loadable by id.
	got, err := s.Load(ctx, snap.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, got.Session.Status)
}

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, 24*time.Hour), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, _ := newMiniredisStore(t)
	ctx := context.Background()
	snap := testSnapshot("user-1", model.SessionStatusActive)

	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx, snap.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Session.UserID, got.Session.UserID)
	assert.Equal(t, snap.Session.QuestionIDs, got.Session.QuestionIDs)

	byUser, err := s.LoadByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, snap.Session.ID, byUser.Session.ID)

	require.NoError(t, s.Delete(ctx, snap.Session.ID, "user-1"))
	_, err = s.Load(ctx, snap.Session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreTerminalRetention(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()
	snap := testSnapshot("user-1", model.SessionStatusActive)
	require.NoError(t, s.Save(ctx, snap))

	snap.Session.Status = model.SessionStatusCompleted
	require.NoError(t, s.Save(ctx, snap))

	_, err := s.LoadByUser(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound, "pointer cleared for terminal sessions")

	// Terminal snapshot carries the retention TTL.
	ttl := mr.TTL("session:" + snap.Session.ID.String() + ":snapshot")
	assert.Equal(t, 24*time.Hour, ttl)

	// After the retention window the snapshot is gone.
	mr.FastForward(25 * time.Hour)
	_, err = s.Load(ctx, snap.Session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// failingStore simulates a durable layer outage.
type failingStore struct {
	failing bool
	inner   *MemoryStore
}

var errDown = errors.New("connection refused")

func (f *failingStore) Save(ctx context.Context, snap model.Snapshot) error {
	if f.failing {
		return errDown
	}
	return f.inner.Save(ctx, snap)
}

func (f *failingStore) Load(ctx context.Context, sessionID uuid.UUID) (*model.Snapshot, error) {
	if f.failing {
		return nil, errDown
	}
	return f.inner.Load(ctx, sessionID)
}

func (f *failingStore) LoadByUser(ctx context.Context, userID string) (*model.Snapshot, error) {
	if f.failing {
		return nil, errDown
	}
	return f.inner.LoadByUser(ctx, userID)
}

func (f *failingStore) Delete(ctx context.Context, sessionID uuid.UUID, userID string) error {
	if f.failing {
		return errDown
	}
	return f.inner.Delete(ctx, sessionID, userID)
}

func TestFallbackStoreDegradedMode(t *testing.T) {
	durable := &failingStore{inner: NewMemoryStore()}
	tracker := faults.NewTracker(10, faults.NewSanitizer("key"), zerolog.Nop())
	s := NewFallbackStore(durable, tracker, zerolog.Nop())
	ctx := context.Background()

	snap := testSnapshot("user-1", model.SessionStatusActive)
	require.NoError(t, s.Save(ctx, snap))
	assert.False(t, s.Degraded())

	// Outage: saves still succeed, served by the shadow.
	durable.failing = true
	snap.Session.CurrentIndex = 3
	require.NoError(t, s.Save(ctx, snap), "storage outage never fails a mutation")
	assert.True(t, s.Degraded())

	got, err := s.Load(ctx, snap.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Session.CurrentIndex, "shadow serves the latest write")

	health := tracker.Health()
	assert.GreaterOrEqual(t, health.Counts[faults.StorageFailed], 1)

	// Recovery: the next durable success clears degraded mode.
	durable.failing = false
	require.NoError(t, s.Save(ctx, snap))
	assert.False(t, s.Degraded())
}
