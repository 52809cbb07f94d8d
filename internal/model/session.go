package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates practice session states.
type SessionStatus string

const (
	SessionStatusIdle         SessionStatus = "IDLE"
	SessionStatusInitializing SessionStatus = "INITIALIZING"
	SessionStatusActive       SessionStatus = "ACTIVE"
	SessionStatusFinalizing   SessionStatus = "FINALIZING"
	SessionStatusCompleted    SessionStatus = "COMPLETED"
	SessionStatusPendingSync  SessionStatus = "PENDING_SYNC"
	SessionStatusExpired      SessionStatus = "EXPIRED"
	SessionStatusAbandoned    SessionStatus = "ABANDONED"
	SessionStatusCorrupted    SessionStatus = "CORRUPTED"
)

// Terminal reports whether the status ends the session lifecycle.
// PENDING_SYNC is not terminal: background delivery keeps running and
// promotes the session to COMPLETED once every answer is acknowledged.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusExpired, SessionStatusAbandoned, SessionStatusCorrupted:
		return true
	}
	return false
}

// SessionMode enumerates the supported practice modes.
type SessionMode string

const (
	ModeQuick  SessionMode = "quick"
	ModeTimed  SessionMode = "timed"
	ModeCustom SessionMode = "custom"
)

// Question counts per mode. Custom counts are caller-specified within
// [CustomCountMin, CustomCountMax].
const (
	QuickQuestionCount = 5
	TimedQuestionCount = 10
	CustomCountMin     = 5
	CustomCountMax     = 50

	// TimedDefaultLimitSeconds is the countdown applied to timed mode when
	// the caller does not override it.
	TimedDefaultLimitSeconds = 600
)

// Session represents one user's practice attempt. It is owned exclusively
// by the session controller for the lifetime of the attempt and mutated
// only through controller transitions.
type Session struct {
	ID                   uuid.UUID     `json:"id"`
	UserID               string        `json:"user_id"`
	Mode                 SessionMode   `json:"mode"`
	Status               SessionStatus `json:"status"`
	QuestionIDs          []string      `json:"question_ids"`
	CurrentIndex         int           `json:"current_index"`
	TimeLimitSeconds     *int          `json:"time_limit_seconds,omitempty"`
	TimeRemainingSeconds int           `json:"time_remaining_seconds"`
	StartedAt            time.Time     `json:"started_at"`
	LastMutationAt       time.Time     `json:"last_mutation_at"`
	LastSyncedAt         *time.Time    `json:"last_synced_at,omitempty"`
	FinalScore           *Score        `json:"final_score,omitempty"`
}

// Score is a session result. Unconfirmed scores were computed locally while
// answers were still awaiting remote acknowledgement.
type Score struct {
	Points      float64            `json:"points"`
	Breakdown   map[string]float64 `json:"breakdown,omitempty"`
	Unconfirmed bool               `json:"unconfirmed"`
}

// SessionConfig is the validated input to Start.
type SessionConfig struct {
	Mode             SessionMode `json:"mode" binding:"required,oneof=quick timed custom"`
	QuestionCount    int         `json:"question_count" binding:"omitempty,min=5,max=50"`
	TimeLimitSeconds *int        `json:"time_limit_seconds,omitempty" binding:"omitempty,min=30,max=7200"`
	Filters          []string    `json:"filters,omitempty"`
	// AllowBackNav permits answering questions before the current index.
	// Only honored in custom mode.
	AllowBackNav bool `json:"allow_back_nav"`
}

// RequestedCount resolves the question count implied by the mode.
func (c SessionConfig) RequestedCount() int {
	switch c.Mode {
	case ModeQuick:
		return QuickQuestionCount
	case ModeTimed:
		return TimedQuestionCount
	default:
		return c.QuestionCount
	}
}
