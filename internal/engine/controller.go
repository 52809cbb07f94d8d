package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medquizpro/session-engine/internal/cache"
	"github.com/medquizpro/session-engine/internal/clock"
	"github.com/medquizpro/session-engine/internal/faults"
	"github.com/medquizpro/session-engine/internal/model"
	"github.com/medquizpro/session-engine/internal/remote"
	"github.com/medquizpro/session-engine/internal/syncqueue"
	"github.com/rs/zerolog"
)

// finalizeCause distinguishes the two entries into the finalization path.
type finalizeCause int

const (
	causeUser finalizeCause = iota
	causeExpired
)

// closeTimeout bounds the best-effort final delivery pass on teardown.
const closeTimeout = 3 * time.Second

// Controller owns one session's lifecycle. Every mutation acquires the
// controller mutex, mutates the in-memory snapshot, persists it to the
// durable cache, and only then hands work to the sync queue, so a crash
// immediately after any state change loses at most the in-flight network
// call, never the local fact of the mutation.
//
// Clock callbacks and queue completion callbacks funnel through the same
// mutex, which is what prevents lost updates between a clock-driven expiry
// and a concurrent Answer call.
type Controller struct {
	mu   sync.Mutex
	snap model.Snapshot
	cfg  model.SessionConfig

	store   cache.SnapshotStore
	queue   *syncqueue.Queue
	tracker *faults.Tracker
	bcast   *Broadcaster
	log     zerolog.Logger
	now     func() time.Time

	countdown *clock.Countdown
	tick      time.Duration

	grace      time.Duration
	graceTimer *time.Timer

	// expiredAt records when expiry fired, opening the tie-break window in
	// which a last answer racing the expiry still counts.
	expiredAt time.Time

	completeEnqueued bool
	closed           bool

	// onTerminal is invoked once, off the lock, when the session reaches a
	// terminal status. The manager uses it to archive the attempt.
	onTerminal func(model.Snapshot, []faults.SessionError)
}

// SessionID returns the controller's session id string.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Session.ID.String()
}

// GetSnapshot returns an immutable copy of the current state.
func (c *Controller) GetSnapshot() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Health returns the session's derived health aggregate.
func (c *Controller) Health() faults.Health {
	return c.tracker.Health()
}

// Errors returns the session's retained error history, oldest first.
func (c *Controller) Errors() []faults.SessionError {
	return c.tracker.Recent()
}

// Subscribe registers a snapshot observer.
func (c *Controller) Subscribe() (subID string, ch <-chan model.Snapshot) {
	id, out := c.bcast.Subscribe()
	return id.String(), out
}

// Unsubscribe removes a snapshot observer by its subscription id.
func (c *Controller) Unsubscribe(subID string) {
	if id, err := uuid.Parse(subID); err == nil {
		c.bcast.Unsubscribe(id)
	}
}

// Answer records the user's answer for a question. Only valid while the
// session is ACTIVE, with one exception: an answer racing the expiry into
// the same tick is applied first, so a last answer submitted before the
// clock reached zero still counts.
//
// Answering a question other than the current one is a non-fatal rejection
// unless the mode config permits backward navigation.
func (c *Controller) Answer(ctx context.Context, questionID, option string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.snap.Session.Status {
	case model.SessionStatusActive:
		// Normal path.
	case model.SessionStatusFinalizing:
		if c.expiredAt.IsZero() || c.now().Sub(c.expiredAt) >= c.tick {
			return ErrNotActive
		}
		// Tie-break window: expiry fired this tick, the answer counts.
	default:
		return ErrNotActive
	}

	idx := indexOf(c.snap.Session.QuestionIDs, questionID)
	if idx < 0 {
		return ErrUnknownQuestion
	}
	if idx != c.snap.Session.CurrentIndex {
		backNav := c.cfg.AllowBackNav && c.cfg.Mode == model.ModeCustom
		if !(backNav && idx < c.snap.Session.CurrentIndex) {
			return ErrNotCurrentQuestion
		}
	}

	now := c.now()
	rec := model.AnswerRecord{
		SessionID:      c.snap.Session.ID,
		QuestionID:     questionID,
		SelectedOption: option,
		AnsweredAt:     now,
		SyncState:      model.SyncStatePending,
	}
	c.upsertAnswer(rec)

	if idx == c.snap.Session.CurrentIndex {
		c.snap.Session.CurrentIndex++
	}
	c.snap.Session.LastMutationAt = now

	c.persistAndPublish(ctx)

	recCopy := rec
	c.queue.Enqueue(syncqueue.Mutation{
		Kind:      syncqueue.MutationSubmitAnswer,
		SessionID: rec.SessionID,
		Record:    &recCopy,
	})
	return nil
}

// Complete is the user-triggered early finish. It takes the same
// finalization path as expiry and is a no-op if finalization already began.
func (c *Controller) Complete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.Session.Status.Terminal() {
		return ErrNotActive
	}
	c.beginFinalize(ctx, causeUser)
	return nil
}

// TimeExpired forces finalization with whatever answers exist. Idempotent:
// a duplicate expiry after finalization began is a no-op.
func (c *Controller) TimeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	c.beginFinalize(ctx, causeExpired)
}

// Abandon terminates the session without scoring. A single best-effort
// final delivery pass runs before teardown completes; no retries follow.
func (c *Controller) Abandon(ctx context.Context) error {
	c.mu.Lock()
	if c.snap.Session.Status.Terminal() {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.stopTimers()
	c.tracker.Classify(faults.QuizSessionAbandoned, nil, map[string]string{
		"session_id": c.snap.Session.ID.String(),
		"user_id":    c.snap.Session.UserID,
	})
	c.snap.Session.Status = model.SessionStatusAbandoned
	c.snap.Session.LastMutationAt = c.now()
	c.persistAndPublish(ctx)
	c.finishTerminal()
	c.mu.Unlock()
	return nil
}

// NetworkLost pauses delivery attempts. Session status is unchanged.
func (c *Controller) NetworkLost() {
	c.queue.Pause()
}

// NetworkRestored resumes delivery attempts.
func (c *Controller) NetworkRestored() {
	c.queue.Resume()
}

// MarkCorrupted is the supervisor's terminal escalation. The in-memory
// status flips to CORRUPTED but the last good snapshot in the cache is left
// untouched, so a later resume can still attempt reconciliation.
func (c *Controller) MarkCorrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.Session.Status.Terminal() {
		return
	}
	c.stopTimers()
	c.snap.Session.Status = model.SessionStatusCorrupted
	c.bcast.Publish(c.snap)
	c.finishTerminal()
}

// Close tears the controller down without a status transition (process
// shutdown, navigation away). In-flight retries are cancelled after one
// best-effort final save.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimers()
	c.persist(ctx)
	c.mu.Unlock()

	c.queue.Close(ctx)
	c.bcast.Close()
}

// ─── Internal transitions (mutex held) ─────────────────────────────

func (c *Controller) beginFinalize(ctx context.Context, cause finalizeCause) {
	status := c.snap.Session.Status
	if status == model.SessionStatusFinalizing || status.Terminal() {
		return
	}

	c.stopTimers()
	now := c.now()

	if cause == causeExpired {
		c.expiredAt = now
		c.snap.Session.TimeRemainingSeconds = 0
		c.tracker.Classify(faults.QuizSessionTimeout, nil, map[string]string{
			"session_id": c.snap.Session.ID.String(),
			"user_id":    c.snap.Session.UserID,
		})

		// Nothing was answered: there is nothing to sync or score.
		if len(c.snap.Answers) == 0 {
			c.snap.Session.Status = model.SessionStatusExpired
			c.snap.Session.LastMutationAt = now
			c.persistAndPublish(ctx)
			c.finishTerminal()
			return
		}
	}

	c.snap.Session.Status = model.SessionStatusFinalizing
	c.snap.Session.LastMutationAt = now
	c.persistAndPublish(ctx)

	if cause == causeExpired {
		// Hold the complete mutation until the tie-break window closes,
		// so a last answer racing the expiry is sequenced ahead of it and
		// counted in the final score.
		c.graceTimer = time.AfterFunc(c.tick, c.onTieBreakClosed)
		return
	}

	if c.allSynced() {
		c.enqueueComplete()
		return
	}

	// Grace wait for pending answers; the queue keeps delivering meanwhile.
	c.graceTimer = time.AfterFunc(c.grace, c.onGraceExpired)
}

// onTieBreakClosed picks the finalization path back up once expiry's
// tie-break window has passed and no further answers can land.
func (c *Controller) onTieBreakClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap.Session.Status != model.SessionStatusFinalizing {
		return
	}
	if c.allSynced() {
		if !c.completeEnqueued {
			c.enqueueComplete()
		}
		return
	}
	c.graceTimer = time.AfterFunc(c.grace, c.onGraceExpired)
}

func (c *Controller) onGraceExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap.Session.Status != model.SessionStatusFinalizing {
		return
	}
	if c.allSynced() {
		if !c.completeEnqueued {
			c.enqueueComplete()
		}
		return
	}

	// Unsynced answers remain: the session must not claim COMPLETED.
	// Local score is computed optimistically and clearly marked
	// unconfirmed; background delivery keeps retrying.
	score := c.optimisticScore()
	c.snap.Session.Status = model.SessionStatusPendingSync
	c.snap.Session.FinalScore = &score
	c.snap.Session.LastMutationAt = c.now()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	c.persistAndPublish(ctx)
}

// handleResult consumes delivery outcomes from the sync queue worker.
func (c *Controller) handleResult(r syncqueue.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	switch r.Mutation.Kind {
	case syncqueue.MutationCreate:
		c.handleCreateResult(ctx, r)
	case syncqueue.MutationSubmitAnswer:
		c.handleAnswerResult(ctx, r)
	case syncqueue.MutationComplete:
		c.handleCompleteResult(ctx, r)
	}
}

func (c *Controller) handleCreateResult(ctx context.Context, r syncqueue.Result) {
	if r.Err == nil {
		now := c.now()
		c.snap.Session.LastSyncedAt = &now
		if r.Attempts > 1 {
			c.tracker.MarkRecovered(faults.QuizSessionSyncFailed, r.Attempts-1)
		}
		c.persist(ctx)
		return
	}

	if r.Attempts == 1 {
		c.classifySyncFailure(r)
	}
	if r.Exhausted {
		// Session-level mutations are retried for as long as the session
		// lives; re-enqueue with a fresh attempt budget.
		c.queue.Enqueue(r.Mutation)
	}
}

func (c *Controller) handleAnswerResult(ctx context.Context, r syncqueue.Result) {
	rec := c.snap.Answer(r.Mutation.Record.QuestionID)
	if rec == nil {
		return
	}

	if r.Err == nil {
		// A re-answered question may have a newer pending record in the
		// queue; only acknowledge the delivery that matches the stored
		// option.
		if rec.SelectedOption == r.Mutation.Record.SelectedOption {
			rec.SyncState = model.SyncStateSynced
			rec.RetryCount = r.Attempts - 1
		}
		now := c.now()
		c.snap.Session.LastSyncedAt = &now
		if r.Attempts > 1 {
			c.tracker.MarkRecovered(faults.QuizSessionSyncFailed, r.Attempts-1)
		}
		c.persistAndPublish(ctx)
		c.maybeCompleteAfterSync()
		return
	}

	rec.RetryCount = r.Attempts
	if r.Attempts == 1 {
		c.classifySyncFailure(r)
	}

	if r.Exhausted {
		// Past the ceiling: surfaced as a non-fatal warning. The record is
		// preserved locally and replayed on the next resume.
		rec.SyncState = model.SyncStateFailed
		c.log.Warn().
			Str("question_id", rec.QuestionID).
			Int("attempts", r.Attempts).
			Msg("Answer delivery exhausted, preserved locally")
	}
	c.persistAndPublish(ctx)
}

func (c *Controller) handleCompleteResult(ctx context.Context, r syncqueue.Result) {
	if r.Err == nil {
		score := model.Score{Unconfirmed: false}
		if r.Completion != nil {
			score.Points = r.Completion.Score
			score.Breakdown = r.Completion.Breakdown
		}
		now := c.now()
		c.snap.Session.Status = model.SessionStatusCompleted
		c.snap.Session.FinalScore = &score
		c.snap.Session.LastSyncedAt = &now
		c.snap.Session.LastMutationAt = now
		c.persistAndPublish(ctx)
		c.finishTerminal()
		return
	}

	if r.Attempts == 1 {
		c.classifySyncFailure(r)
	}
	if r.Exhausted {
		c.completeEnqueued = false
		c.maybeCompleteAfterSync()
	}
}

func (c *Controller) maybeCompleteAfterSync() {
	status := c.snap.Session.Status
	if status != model.SessionStatusFinalizing && status != model.SessionStatusPendingSync {
		return
	}
	if !c.allSynced() || c.completeEnqueued {
		return
	}
	// While the tie-break window is open another answer may still land;
	// onTieBreakClosed enqueues the complete once it cannot.
	if !c.expiredAt.IsZero() && c.now().Sub(c.expiredAt) < c.tick {
		return
	}
	c.enqueueComplete()
}

func (c *Controller) enqueueComplete() {
	c.completeEnqueued = true
	answers := append([]model.AnswerRecord(nil), c.snap.Answers...)
	c.queue.Enqueue(syncqueue.Mutation{
		Kind:         syncqueue.MutationComplete,
		SessionID:    c.snap.Session.ID,
		FinalAnswers: answers,
	})
}

func (c *Controller) classifySyncFailure(r syncqueue.Result) {
	kind := faults.QuizSessionSyncFailed
	switch {
	case errors.Is(r.Err, remote.ErrAuthExpired):
		kind = faults.AuthSessionExpired
	case errors.Is(r.Err, remote.ErrAuthInvalid):
		kind = faults.AuthSessionInvalid
	}
	c.tracker.Classify(kind, r.Err, map[string]string{
		"session_id": c.snap.Session.ID.String(),
		"user_id":    c.snap.Session.UserID,
		"mutation":   string(r.Mutation.Kind),
		"key":        r.Mutation.Key(),
	})
}

// onTick updates remaining time from the drift-corrected countdown.
func (c *Controller) onTick(remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.Session.Status != model.SessionStatusActive {
		return
	}
	c.snap.Session.TimeRemainingSeconds = remaining

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	c.persistAndPublish(ctx)
}

func (c *Controller) optimisticScore() model.Score {
	total := len(c.snap.Session.QuestionIDs)
	if total == 0 {
		return model.Score{Unconfirmed: true}
	}
	return model.Score{
		Points:      100 * float64(len(c.snap.Answers)) / float64(total),
		Unconfirmed: true,
	}
}

func (c *Controller) allSynced() bool {
	for _, a := range c.snap.Answers {
		if a.SyncState != model.SyncStateSynced {
			return false
		}
	}
	return true
}

func (c *Controller) upsertAnswer(rec model.AnswerRecord) {
	for i := range c.snap.Answers {
		if c.snap.Answers[i].QuestionID == rec.QuestionID {
			c.snap.Answers[i] = rec
			return
		}
	}
	c.snap.Answers = append(c.snap.Answers, rec)
}

func (c *Controller) stopTimers() {
	if c.countdown != nil {
		c.countdown.Stop()
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

func (c *Controller) persist(ctx context.Context) {
	c.snap.SavedAt = c.now()
	if err := c.store.Save(ctx, c.snap); err != nil {
		// Only reachable with a store that does not self-degrade.
		c.log.Error().Err(err).Msg("Snapshot persist failed")
	}
}

func (c *Controller) persistAndPublish(ctx context.Context) {
	c.persist(ctx)
	c.bcast.Publish(c.snap)
}

// finishTerminal runs terminal-status cleanup off the lock: the queue is
// drained with one final pass and the attempt is handed to the archiver.
func (c *Controller) finishTerminal() {
	c.stopTimers()
	snap := c.snap.Clone()
	errs := c.tracker.Recent()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		c.queue.Close(ctx)
		c.bcast.Close()
		if c.onTerminal != nil {
			c.onTerminal(snap, errs)
		}
	}()
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
