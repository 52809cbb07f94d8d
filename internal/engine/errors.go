package engine

import "errors"

// Rejections are expected, non-fatal outcomes of controller operations.
// They are returned directly as typed errors and never routed through the
// fault taxonomy or the recovery supervisor.
var (
	// ErrSessionActive is returned by Start when the user already has a
	// non-terminal session.
	ErrSessionActive = errors.New("engine: user already has an active session")

	// ErrNotActive rejects mutations on a session that is not ACTIVE.
	ErrNotActive = errors.New("engine: session is not active")

	// ErrNotCurrentQuestion rejects an answer for a question other than
	// the one at the current index when backward navigation is off.
	ErrNotCurrentQuestion = errors.New("engine: question is not the current one")

	// ErrUnknownQuestion rejects an answer for a question id that is not
	// part of the session.
	ErrUnknownQuestion = errors.New("engine: question not in session")

	// ErrSessionNotFound is returned on resume when neither the cache nor
	// the remote knows the session.
	ErrSessionNotFound = errors.New("engine: session not found")

	// ErrInitialization is returned by Start when the question provider
	// yields no questions at all. A short provider response degrades to
	// the available count instead.
	ErrInitialization = errors.New("engine: could not initialize session")
)

// IsRejection reports whether err is an expected state-machine rejection
// rather than a fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrSessionActive) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrNotCurrentQuestion) ||
		errors.Is(err, ErrUnknownQuestion) ||
		errors.Is(err, ErrSessionNotFound)
}
