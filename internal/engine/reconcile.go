package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/medquizpro/session-engine/internal/cache"
	"github.com/medquizpro/session-engine/internal/model"
	"github.com/medquizpro/session-engine/internal/syncqueue"
)

// ResumeUser reconciles and resumes the user's session after a reload or
// crash. Returns the live controller, or a detached terminal controller
// when the remote reports the session already completed.
func (m *Manager) ResumeUser(ctx context.Context, userID string) (*Controller, error) {
	if c, ok := m.ForUser(userID); ok {
		return c, nil
	}
	snap, err := m.store.LoadByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return m.resume(ctx, *snap)
}

// ResumeSession is ResumeUser keyed by session id.
func (m *Manager) ResumeSession(ctx context.Context, sessionID uuid.UUID) (*Controller, error) {
	if c, ok := m.Get(sessionID); ok {
		return c, nil
	}
	snap, err := m.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return m.resume(ctx, *snap)
}

// resume applies the reconciliation rules: the remote is authoritative for
// COMPLETED, the local snapshot for everything else ("local is never
// behind"). On index disagreement the higher index wins.
func (m *Manager) resume(ctx context.Context, snap model.Snapshot) (*Controller, error) {
	if snap.Session.Status.Terminal() {
		return nil, ErrSessionNotFound
	}

	state, err := m.api.GetSession(ctx, snap.Session.ID)
	if err != nil {
		// Unreachable remote: resume from the local snapshot and let the
		// queue replay once delivery succeeds.
		m.log.Warn().Err(err).
			Str("session_id", snap.Session.ID.String()).
			Msg("Remote unreachable during reconciliation, resuming locally")
		state = nil
	}

	if state != nil && state.Status == model.SessionStatusCompleted {
		return m.adoptRemoteCompletion(ctx, snap, state.Score)
	}

	if state != nil && state.CurrentIndex > snap.Session.CurrentIndex {
		snap.Session.CurrentIndex = state.CurrentIndex
	}

	// Drift correction: remaining time comes from elapsed wall time since
	// the original start, not from the stale persisted counter.
	var deadline time.Time
	if snap.Session.TimeLimitSeconds != nil {
		deadline = snap.Session.StartedAt.Add(time.Duration(*snap.Session.TimeLimitSeconds) * time.Second)
		remaining := deadline.Sub(m.opts.Now())
		if remaining < 0 {
			remaining = 0
		}
		snap.Session.TimeRemainingSeconds = int((remaining + time.Second - 1) / time.Second)
	}

	cfg := model.SessionConfig{Mode: snap.Session.Mode}
	c := m.buildController(snap, cfg)

	c.mu.Lock()
	if state == nil {
		// The remote has never acknowledged this session (or was
		// unreachable); re-deliver create first so answers land in order.
		sessCopy := c.snap.Session
		c.queue.Enqueue(syncqueue.Mutation{
			Kind:      syncqueue.MutationCreate,
			SessionID: sessCopy.ID,
			Session:   &sessCopy,
		})
	}
	c.replayUnsynced()
	c.persistAndPublish(ctx)

	resumedStatus := c.snap.Session.Status
	if resumedStatus == model.SessionStatusActive {
		c.startCountdown(deadline)
	}
	c.mu.Unlock()

	m.register(c)

	// A countdown that ran out while the process was down expires now.
	if resumedStatus == model.SessionStatusActive && c.countdown != nil {
		c.countdown.CheckNow()
	}

	// A session that crashed mid-finalization picks the path back up.
	if resumedStatus == model.SessionStatusFinalizing || resumedStatus == model.SessionStatusPendingSync {
		c.mu.Lock()
		c.maybeCompleteAfterSync()
		if c.snap.Session.Status == model.SessionStatusFinalizing && !c.completeEnqueued {
			c.graceTimer = time.AfterFunc(c.grace, c.onGraceExpired)
		}
		c.mu.Unlock()
	}

	m.log.Info().
		Str("session_id", snap.Session.ID.String()).
		Str("status", string(resumedStatus)).
		Int("current_index", snap.Session.CurrentIndex).
		Msg("Session resumed")
	return c, nil
}

// adoptRemoteCompletion discards the local snapshot in favor of the
// remote's completed state and surfaces the results.
func (m *Manager) adoptRemoteCompletion(ctx context.Context, snap model.Snapshot, score *model.Score) (*Controller, error) {
	now := m.opts.Now()
	snap.Session.Status = model.SessionStatusCompleted
	snap.Session.LastSyncedAt = &now
	if score != nil {
		s := *score
		s.Unconfirmed = false
		snap.Session.FinalScore = &s
	}
	for i := range snap.Answers {
		snap.Answers[i].SyncState = model.SyncStateSynced
	}

	c := m.buildController(snap, model.SessionConfig{Mode: snap.Session.Mode})
	c.mu.Lock()
	c.persistAndPublish(ctx)
	c.finishTerminal()
	c.mu.Unlock()

	m.log.Info().
		Str("session_id", snap.Session.ID.String()).
		Msg("Remote reported session completed, local snapshot discarded")
	return c, nil
}

// replayUnsynced puts every unacknowledged answer back on the queue.
// Records past the retry ceiling get a fresh budget. Caller holds c.mu.
func (c *Controller) replayUnsynced() {
	for i := range c.snap.Answers {
		rec := &c.snap.Answers[i]
		if rec.SyncState == model.SyncStateSynced {
			continue
		}
		rec.SyncState = model.SyncStatePending
		recCopy := *rec
		c.queue.Enqueue(syncqueue.Mutation{
			Kind:      syncqueue.MutationSubmitAnswer,
			SessionID: rec.SessionID,
			Record:    &recCopy,
		})
	}
}
