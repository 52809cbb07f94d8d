package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medquizpro/session-engine/internal/faults"
	"github.com/medquizpro/session-engine/internal/model"
)

// ArchiveRepository persists terminal sessions to PostgreSQL. Every write
// is an UPSERT keyed on the session id, so replaying an archive payload
// after a worker restart is harmless.
type ArchiveRepository struct {
	pool *pgxpool.Pool
}

// NewArchiveRepository creates a new ArchiveRepository.
func NewArchiveRepository(pool *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{pool: pool}
}

// ArchiveSession writes the session row, its answers, and its retained
// error history in one transaction.
func (r *ArchiveRepository) ArchiveSession(ctx context.Context, snap model.Snapshot, errs []faults.SessionError) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	s := snap.Session

	var scoreJSON []byte
	if s.FinalScore != nil {
		scoreJSON, err = json.Marshal(s.FinalScore)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO archived_sessions
		   (id, user_id, mode, status, question_ids, current_index,
		    time_limit_seconds, started_at, last_mutation_at, last_synced_at,
		    final_score, archived_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status,
		     current_index = EXCLUDED.current_index,
		     last_mutation_at = EXCLUDED.last_mutation_at,
		     last_synced_at = EXCLUDED.last_synced_at,
		     final_score = EXCLUDED.final_score,
		     archived_at = NOW()`,
		s.ID, s.UserID, s.Mode, s.Status, s.QuestionIDs, s.CurrentIndex,
		s.TimeLimitSeconds, s.StartedAt, s.LastMutationAt, s.LastSyncedAt,
		scoreJSON,
	)
	if err != nil {
		return err
	}

	for _, a := range snap.Answers {
		_, err = tx.Exec(ctx,
			`INSERT INTO archived_answers
			   (session_id, question_id, selected_option, answered_at, sync_state, retry_count)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id, question_id) DO UPDATE
			 SET selected_option = EXCLUDED.selected_option,
			     answered_at = EXCLUDED.answered_at,
			     sync_state = EXCLUDED.sync_state,
			     retry_count = EXCLUDED.retry_count`,
			a.SessionID, a.QuestionID, a.SelectedOption, a.AnsweredAt, a.SyncState, a.RetryCount,
		)
		if err != nil {
			return err
		}
	}

	for _, e := range errs {
		var ctxJSON []byte
		if len(e.SanitizedContext) > 0 {
			ctxJSON, err = json.Marshal(e.SanitizedContext)
			if err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO archived_session_errors
			   (id, session_id, kind, severity, context, occurred_at, recovered, retry_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE
			 SET recovered = EXCLUDED.recovered,
			     retry_count = EXCLUDED.retry_count`,
			e.ID, s.ID, e.Kind, e.Severity, ctxJSON, e.OccurredAt, e.Recovered, e.RetryCount,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
