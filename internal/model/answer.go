package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncState tracks remote acknowledgement of a single answer.
type SyncState string

const (
	SyncStatePending SyncState = "pending"
	SyncStateSynced  SyncState = "synced"
	// SyncStateFailed means the retry ceiling was passed. The record is
	// preserved locally and replayed on resume; it is never dropped.
	SyncStateFailed SyncState = "failed"
)

// AnswerRecord is one recorded answer, keyed by (SessionID, QuestionID).
// The composite key doubles as the idempotency key for remote delivery, so
// a retried submission never double-counts server-side.
type AnswerRecord struct {
	SessionID      uuid.UUID `json:"session_id"`
	QuestionID     string    `json:"question_id"`
	SelectedOption string    `json:"selected_option"`
	AnsweredAt     time.Time `json:"answered_at"`
	SyncState      SyncState `json:"sync_state"`
	RetryCount     int       `json:"retry_count"`
}

// IdempotencyKey returns the stable delivery key for this record.
func (a AnswerRecord) IdempotencyKey() string {
	return a.SessionID.String() + ":" + a.QuestionID
}

// AnswerRequest is the payload for submitting an answer.
type AnswerRequest struct {
	QuestionID     string `json:"question_id" binding:"required"`
	SelectedOption string `json:"selected_option" binding:"required,max=256"`
}
