package worker

import (
	"context"
	"encoding/json"

	"github.com/medquizpro/session-engine/internal/config"
	"github.com/medquizpro/session-engine/internal/faults"
	"github.com/medquizpro/session-engine/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// archivePayload is the wire format on the archive queue.
type archivePayload struct {
	Snapshot model.Snapshot        `json:"snapshot"`
	Errors   []faults.SessionError `json:"errors,omitempty"`
}

// ArchiveQueue pushes terminal sessions onto the Redis archive queue for
// the archive worker to persist. It is the engine's archival sink.
type ArchiveQueue struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewArchiveQueue creates a new ArchiveQueue.
func NewArchiveQueue(rdb *redis.Client, log zerolog.Logger) *ArchiveQueue {
	return &ArchiveQueue{
		rdb: rdb,
		log: log.With().Str("component", "archive_queue").Logger(),
	}
}

// EnqueueArchive serializes the snapshot plus its error history and pushes
// it onto the archive queue.
func (q *ArchiveQueue) EnqueueArchive(ctx context.Context, snap model.Snapshot, errs []faults.SessionError) error {
	data, err := json.Marshal(archivePayload{Snapshot: snap, Errors: errs})
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.ArchiveSessionsQueue, data).Err(); err != nil {
		q.log.Error().Err(err).
			Str("session_id", snap.Session.ID.String()).
			Msg("Archive enqueue failed")
		return err
	}
	return nil
}
