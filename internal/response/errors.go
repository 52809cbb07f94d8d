package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrSessionActive        ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionNotFound      ErrCode = "SESSION_NOT_FOUND"
	ErrSessionNotActive     ErrCode = "SESSION_NOT_ACTIVE"
	ErrNotCurrentQuestion   ErrCode = "NOT_CURRENT_QUESTION"
	ErrUnknownQuestion      ErrCode = "UNKNOWN_QUESTION"
	ErrSessionInitFailed    ErrCode = "SESSION_INIT_FAILED"
	ErrSessionCorrupted     ErrCode = "SESSION_CORRUPTED"
	ErrReauthRequired       ErrCode = "REAUTH_REQUIRED"
	ErrInvalidSessionConfig ErrCode = "INVALID_SESSION_CONFIG"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrSessionActive:
		return "You already have an active practice session."
	case ErrSessionNotFound:
		return "Practice session not found."
	case ErrSessionNotActive:
		return "This session no longer accepts answers."
	case ErrNotCurrentQuestion:
		return "This is not the current question."
	case ErrUnknownQuestion:
		return "This question does not belong to the session."
	case ErrSessionInitFailed:
		return "The session could not be initialized. Please try again."
	case ErrSessionCorrupted:
		return "The session could not be recovered. Your progress has been preserved."
	case ErrReauthRequired:
		return "Please sign in again to continue."
	case ErrInvalidSessionConfig:
		return "The session configuration is invalid."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
