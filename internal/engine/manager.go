package engine

import (
	"context"
	"errors"
	"fmt"
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

// RemoteAPI is the upstream surface the engine consumes. Satisfied by
// *remote.Client.
type RemoteAPI interface {
	syncqueue.Deliverer
	GetSession(ctx context.Context, sessionID uuid.UUID) (*remote.SessionState, error)
}

// Archiver receives terminal sessions for durable archival. Satisfied by
// *worker.ArchiveQueue; nil disables archival.
type Archiver interface {
	EnqueueArchive(ctx context.Context, snap model.Snapshot, errs []faults.SessionError) error
}

// Options tunes the manager and the controllers it creates.
type Options struct {
	TickInterval      time.Duration
	FinalizationGrace time.Duration
	Queue             syncqueue.Config
	ErrorRingCapacity int
	Now               func() time.Time
}

func (o *Options) fill() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.FinalizationGrace <= 0 {
		o.FinalizationGrace = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Manager owns one controller per user. It enforces the single-active-
// session invariant, runs reconciliation on resume, and feeds terminal
// sessions to the archiver.
type Manager struct {
	store     cache.SnapshotStore
	api       RemoteAPI
	provider  remote.QuestionProvider
	archiver  Archiver
	sanitizer *faults.Sanitizer
	opts      Options
	log       zerolog.Logger

	mu          sync.Mutex
	controllers map[uuid.UUID]*Controller
	byUser      map[string]uuid.UUID
}

// NewManager creates a Manager.
func NewManager(
	store cache.SnapshotStore,
	api RemoteAPI,
	provider remote.QuestionProvider,
	archiver Archiver,
	sanitizer *faults.Sanitizer,
	opts Options,
	log zerolog.Logger,
) *Manager {
	opts.fill()
	return &Manager{
		store:       store,
		api:         api,
		provider:    provider,
		archiver:    archiver,
		sanitizer:   sanitizer,
		opts:        opts,
		log:         log.With().Str("component", "session_manager").Logger(),
		controllers: make(map[uuid.UUID]*Controller),
		byUser:      make(map[string]uuid.UUID),
	}
}

// ErrInvalidConfig rejects a start config outside the mode constraints.
var ErrInvalidConfig = errors.New("engine: invalid session config")

// Start creates and activates a new session for the user. Fails with
// ErrSessionActive when the user already has a non-terminal session, in
// memory or in the cache.
func (m *Manager) Start(ctx context.Context, userID string, cfg model.SessionConfig) (*Controller, error) {
	if cfg.Mode == model.ModeCustom {
		if cfg.QuestionCount < model.CustomCountMin || cfg.QuestionCount > model.CustomCountMax {
			return nil, fmt.Errorf("%w: custom question count %d outside [%d,%d]",
				ErrInvalidConfig, cfg.QuestionCount, model.CustomCountMin, model.CustomCountMax)
		}
	}

	// The reservation makes check-and-claim one atomic step: a concurrent
	// Start for the same user fails here, before the provider fetch.
	if err := m.reserveUser(userID); err != nil {
		return nil, err
	}
	// A snapshot may survive from a previous process; it still counts.
	if snap, err := m.store.LoadByUser(ctx, userID); err == nil && !snap.Session.Status.Terminal() {
		m.releaseUser(userID)
		return nil, ErrSessionActive
	}

	requested := cfg.RequestedCount()
	questions, err := m.provider.FetchQuestions(ctx, cfg.Mode, requested, cfg.Filters)
	if err != nil {
		m.releaseUser(userID)
		return nil, fmt.Errorf("%w: fetch questions: %v", ErrInitialization, err)
	}
	if len(questions) == 0 {
		m.releaseUser(userID)
		return nil, fmt.Errorf("%w: question provider returned no questions", ErrInitialization)
	}
	if len(questions) < requested {
		// Degrade to the available count rather than failing outright.
		m.log.Warn().
			Str("user_id", userID).
			Int("requested", requested).
			Int("available", len(questions)).
			Msg("Degrading session to available question count")
	}

	questionIDs := make([]string, len(questions))
	for i, q := range questions {
		questionIDs[i] = q.ID
	}

	now := m.opts.Now()
	sess := model.Session{
		ID:             uuid.New(),
		UserID:         userID,
		Mode:           cfg.Mode,
		Status:         model.SessionStatusInitializing,
		QuestionIDs:    questionIDs,
		StartedAt:      now,
		LastMutationAt: now,
	}

	switch cfg.Mode {
	case model.ModeTimed:
		limit := model.TimedDefaultLimitSeconds
		if cfg.TimeLimitSeconds != nil {
			limit = *cfg.TimeLimitSeconds
		}
		sess.TimeLimitSeconds = &limit
	case model.ModeCustom:
		sess.TimeLimitSeconds = cfg.TimeLimitSeconds
	}
	if sess.TimeLimitSeconds != nil {
		sess.TimeRemainingSeconds = *sess.TimeLimitSeconds
	}

	c := m.buildController(model.Snapshot{Session: sess}, cfg)

	c.mu.Lock()
	c.persist(ctx)
	c.snap.Session.Status = model.SessionStatusActive
	sessCopy := c.snap.Session
	c.persistAndPublish(ctx)
	c.queue.Enqueue(syncqueue.Mutation{
		Kind:      syncqueue.MutationCreate,
		SessionID: sessCopy.ID,
		Session:   &sessCopy,
	})
	c.startCountdown(time.Time{})
	c.mu.Unlock()

	m.register(c)
	m.log.Info().
		Str("session_id", sess.ID.String()).
		Str("mode", string(cfg.Mode)).
		Int("questions", len(questionIDs)).
		Msg("Session started")
	return c, nil
}

// Get returns the live controller for a session id, if any.
func (m *Manager) Get(sessionID uuid.UUID) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controllers[sessionID]
	return c, ok
}

// ForUser returns the live controller owning the user's active session.
func (m *Manager) ForUser(userID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUser[userID]
	if !ok {
		return nil, false
	}
	c, ok := m.controllers[id]
	return c, ok
}

// ActiveCount returns the number of live controllers.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.controllers)
}

// CloseAll tears down every live controller, each with a best-effort final
// save. Used on process shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	cs := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		cs = append(cs, c)
	}
	m.controllers = make(map[uuid.UUID]*Controller)
	m.byUser = make(map[string]uuid.UUID)
	m.mu.Unlock()

	for _, c := range cs {
		c.Close(ctx)
	}
}

// reserveUser claims the user's byUser slot with a placeholder under the
// manager lock. register replaces the placeholder with the real session id;
// a failed Start must releaseUser instead.
func (m *Manager) reserveUser(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUser[userID]; ok {
		return ErrSessionActive
	}
	m.byUser[userID] = uuid.Nil
	return nil
}

func (m *Manager) releaseUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byUser[userID] == uuid.Nil {
		delete(m.byUser, userID)
	}
}

// buildController wires a controller, its sync queue, and its fault
// tracker together.
func (m *Manager) buildController(snap model.Snapshot, cfg model.SessionConfig) *Controller {
	log := m.log.With().Str("session_id", snap.Session.ID.String()).Logger()

	c := &Controller{
		snap:    snap,
		cfg:     cfg,
		store:   m.store,
		tracker: faults.NewTracker(m.opts.ErrorRingCapacity, m.sanitizer, log),
		bcast:   NewBroadcaster(),
		log:     log.With().Str("component", "session_controller").Logger(),
		now:     m.opts.Now,
		tick:    m.opts.TickInterval,
		grace:   m.opts.FinalizationGrace,
	}
	c.queue = syncqueue.New(m.opts.Queue, m.api, c.handleResult, log)
	c.onTerminal = func(s model.Snapshot, errs []faults.SessionError) {
		m.unregister(s.Session.ID, s.Session.UserID)
		if m.archiver == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := m.archiver.EnqueueArchive(ctx, s, errs); err != nil {
			m.log.Error().Err(err).
				Str("session_id", s.Session.ID.String()).
				Msg("Archive enqueue failed")
		}
	}
	return c
}

func (m *Manager) register(c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers[c.snap.Session.ID] = c
	m.byUser[c.snap.Session.UserID] = c.snap.Session.ID
}

func (m *Manager) unregister(sessionID uuid.UUID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controllers, sessionID)
	if m.byUser[userID] == sessionID {
		delete(m.byUser, userID)
	}
}

// startCountdown starts the drift-corrected countdown for timed sessions.
// A zero deadline derives it from the configured limit starting now; resume
// passes the original absolute deadline instead. Caller holds c.mu.
func (c *Controller) startCountdown(deadline time.Time) {
	if c.snap.Session.TimeLimitSeconds == nil {
		return
	}
	cfg := clock.Config{
		Limit:    time.Duration(*c.snap.Session.TimeLimitSeconds) * time.Second,
		Interval: c.tick,
		Now:      c.now,
		OnTick:   c.onTick,
		OnExpire: c.TimeExpired,
	}
	if deadline.IsZero() {
		c.countdown = clock.New(cfg)
	} else {
		c.countdown = clock.NewAt(deadline, cfg)
	}
	c.countdown.Start()
}
