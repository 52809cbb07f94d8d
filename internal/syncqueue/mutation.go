// Package syncqueue orders outbound session mutations, applies retry with
// exponential backoff and jitter, and guarantees idempotent delivery to the
// upstream session API.
package syncqueue

import (
	"context"

	"github.com/google/uuid"
	"github.com/medquizpro/session-engine/internal/model"
	"github.com/medquizpro/session-engine/internal/remote"
)

// MutationKind enumerates the outbound operations.
type MutationKind string

const (
	MutationCreate       MutationKind = "create"
	MutationSubmitAnswer MutationKind = "submitAnswer"
	MutationComplete     MutationKind = "complete"
)

// Mutation is one ordered unit of delivery. Its Key is the idempotency key:
// (sessionID, questionID) for answers, sessionID alone for session-level
// mutations, so a retried delivery has no effect beyond the first success.
type Mutation struct {
	Kind         MutationKind
	SessionID    uuid.UUID
	Session      *model.Session       // create
	Record       *model.AnswerRecord  // submitAnswer
	FinalAnswers []model.AnswerRecord // complete
}

// Key returns the mutation's idempotency key.
func (m Mutation) Key() string {
	if m.Kind == MutationSubmitAnswer && m.Record != nil {
		return m.Record.IdempotencyKey()
	}
	return m.SessionID.String()
}

// Result reports a finished delivery attempt sequence back to the
// controller. Exactly one of the terminal fields applies: Err == nil means
// delivered; Exhausted means the retry ceiling was passed and the mutation
// was dropped from the queue.
type Result struct {
	Mutation   Mutation
	Attempts   int
	Err        error
	Exhausted  bool
	Completion *remote.CompletionResult // set for a delivered complete
}

// Deliverer is the transport the queue drives. Satisfied by *remote.Client.
type Deliverer interface {
	CreateSession(ctx context.Context, sess model.Session) error
	SubmitAnswer(ctx context.Context, rec model.AnswerRecord) error
	CompleteSession(ctx context.Context, sessionID uuid.UUID, finalAnswers []model.AnswerRecord) (*remote.CompletionResult, error)
}
