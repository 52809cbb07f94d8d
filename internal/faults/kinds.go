// Package faults classifies session failures, keeps a bounded error
// history, and derives the session-health summary used for UI warnings.
package faults

// Kind is the typed classification every caught fault maps onto.
type Kind string

const (
	AuthSessionExpired    Kind = "AUTH_SESSION_EXPIRED"
	AuthSessionInvalid    Kind = "AUTH_SESSION_INVALID"
	QuizSessionSyncFailed Kind = "QUIZ_SESSION_SYNC_FAILED"
	QuizSessionTimeout    Kind = "QUIZ_SESSION_TIMEOUT"
	QuizSessionCorrupted  Kind = "QUIZ_SESSION_CORRUPTED"
	QuizSessionAbandoned  Kind = "QUIZ_SESSION_ABANDONED"
	StorageFailed         Kind = "STORAGE_FAILED"
	DisplayError          Kind = "DISPLAY_ERROR"
	RecoveryFailed        Kind = "RECOVERY_FAILED"
)

// Directive tells the caller how to react to a classified fault.
type Directive string

const (
	DirectiveAutoRetry          Directive = "auto-retry"
	DirectiveUserActionRequired Directive = "user-action-required"
	DirectiveFatal              Directive = "fatal"
)

// Severity grades a fault for the health summary.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// DirectiveFor maps a kind onto its recovery directive.
func DirectiveFor(kind Kind) Directive {
	switch kind {
	case AuthSessionExpired:
		// Silent token refresh, then retry the original call.
		return DirectiveAutoRetry
	case AuthSessionInvalid:
		return DirectiveUserActionRequired
	case QuizSessionSyncFailed:
		return DirectiveAutoRetry
	case QuizSessionTimeout:
		// Fatal to the attempt, not the process: forces finalization.
		return DirectiveFatal
	case QuizSessionCorrupted:
		return DirectiveAutoRetry
	case QuizSessionAbandoned:
		return DirectiveFatal
	case StorageFailed:
		return DirectiveAutoRetry
	case DisplayError:
		return DirectiveAutoRetry
	case RecoveryFailed:
		return DirectiveFatal
	default:
		return DirectiveFatal
	}
}

// SeverityFor grades a kind for the health score.
func SeverityFor(kind Kind) Severity {
	switch kind {
	case AuthSessionExpired, QuizSessionSyncFailed, StorageFailed, DisplayError:
		return SeverityWarning
	case AuthSessionInvalid, QuizSessionTimeout, QuizSessionAbandoned:
		return SeverityError
	case QuizSessionCorrupted, RecoveryFailed:
		return SeverityCritical
	default:
		return SeverityError
	}
}
