package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/medquizpro/session-engine/internal/config"
	"github.com/medquizpro/session-engine/internal/faults"
	"github.com/medquizpro/session-engine/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Archiver persists one terminal session. Satisfied by
// *repository.ArchiveRepository.
type Archiver interface {
	ArchiveSession(ctx context.Context, snap model.Snapshot, errs []faults.SessionError) error
}

// ArchiveWorker consumes archive_sessions_queue and persists terminal
// sessions to PostgreSQL.
type ArchiveWorker struct {
	repo Archiver
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewArchiveWorker creates a new ArchiveWorker.
func NewArchiveWorker(repo Archiver, rdb *redis.Client, log zerolog.Logger) *ArchiveWorker {
	return &ArchiveWorker{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "archive_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ArchiveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ArchiveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.ArchiveSessionsQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var payload archivePayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.repo.ArchiveSession(ctx, payload.Snapshot, payload.Errors); err != nil {
		w.log.Error().Err(err).
			Str("session_id", payload.Snapshot.Session.ID.String()).
			Msg("Archive error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.ArchiveSessionsQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

// drain processes all remaining items in the queue before shutdown.
func (w *ArchiveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.ArchiveSessionsQueue).Result()
		if err != nil {
			break
		}

		var payload archivePayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.repo.ArchiveSession(ctx, payload.Snapshot, payload.Errors); err != nil {
			w.log.Error().Err(err).Msg("Drain archive error")
			w.rdb.RPush(ctx, config.WorkerKey.ArchiveSessionsQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining sessions")
	}
}
