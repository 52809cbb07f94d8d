// Package supervisor wraps controller operations with bounded recovery.
// Expected state-machine rejections pass straight through; only genuinely
// unexpected faults are classified, retried, or escalated. Escalation
// always preserves the last good snapshot.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medquizpro/session-engine/internal/engine"
	"github.com/medquizpro/session-engine/internal/faults"
	"github.com/medquizpro/session-engine/internal/remote"
	"github.com/rs/zerolog"
)

// RecoverablePrompt is returned when a fault needs the user to act (for
// example re-authenticate). Session state is untouched.
type RecoverablePrompt struct {
	Kind faults.Kind
	Err  error
}

func (p *RecoverablePrompt) Error() string {
	return fmt.Sprintf("user action required (%s): %v", p.Kind, p.Err)
}

func (p *RecoverablePrompt) Unwrap() error { return p.Err }

// TerminalError is the supervisor's escalation: retries are exhausted or
// the fault is fatal. The session was marked CORRUPTED but its last good
// snapshot is preserved for reconciliation.
type TerminalError struct {
	Kind faults.Kind
	Err  error
}

func (t *TerminalError) Error() string {
	return fmt.Sprintf("session recovery failed (%s): %v", t.Kind, t.Err)
}

func (t *TerminalError) Unwrap() error { return t.Err }

// Target is the slice of a controller the supervisor needs. Satisfied by
// *engine.Controller.
type Target interface {
	Health() faults.Health
	MarkCorrupted()
}

// Supervisor re-invokes failed operations a bounded number of times.
type Supervisor struct {
	tracker     *faults.Tracker
	maxRestarts int
	backoff     time.Duration
	log         zerolog.Logger
}

// New creates a Supervisor. maxRestarts bounds re-invocations per
// operation; backoff is the pause between them.
func New(tracker *faults.Tracker, maxRestarts int, backoff time.Duration, log zerolog.Logger) *Supervisor {
	if maxRestarts <= 0 {
		maxRestarts = 3
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Supervisor{
		tracker:     tracker,
		maxRestarts: maxRestarts,
		backoff:     backoff,
		log:         log.With().Str("component", "recovery_supervisor").Logger(),
	}
}

// Do runs op under recovery policy. fn is re-invoked on auto-retry
// directives; a panic inside fn is contained and classified rather than
// crashing the process.
func (s *Supervisor) Do(ctx context.Context, target Target, op string, fn func() error) error {
	var lastErr error
	var lastKind faults.Kind

	for attempt := 0; attempt <= s.maxRestarts; attempt++ {
		err := s.invoke(fn)
		if err == nil {
			if attempt > 0 {
				s.tracker.MarkRecovered(lastKind, attempt)
				s.log.Info().Str("op", op).Int("retries", attempt).Msg("Operation recovered")
			}
			return nil
		}

		// Expected rejections are results, not faults.
		if engine.IsRejection(err) || errors.Is(err, engine.ErrInvalidConfig) {
			return err
		}

		lastErr = err
		lastKind = kindOf(err)
		directive := s.tracker.Classify(lastKind, err, map[string]string{"op": op})

		switch directive {
		case faults.DirectiveUserActionRequired:
			return &RecoverablePrompt{Kind: lastKind, Err: err}
		case faults.DirectiveFatal:
			return s.escalate(target, op, lastKind, err)
		}

		if attempt < s.maxRestarts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff << attempt):
			}
		}
	}

	s.tracker.Classify(faults.RecoveryFailed, lastErr, map[string]string{"op": op})
	return s.escalate(target, op, faults.RecoveryFailed, lastErr)
}

// invoke runs fn, converting a panic into an error.
func (s *Supervisor) invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", errPanic, r)
		}
	}()
	return fn()
}

var errPanic = errors.New("supervisor: contained panic")

// escalate marks the session corrupted and reports a terminal error. It
// never silently drops state: the snapshot persisted before the fault
// stays in the cache untouched.
func (s *Supervisor) escalate(target Target, op string, kind faults.Kind, err error) error {
	s.log.Error().Err(err).
		Str("op", op).
		Str("kind", string(kind)).
		Msg("Unrecoverable fault, marking session corrupted")
	if target != nil {
		target.MarkCorrupted()
	}
	return &TerminalError{Kind: kind, Err: err}
}

// kindOf maps an error onto the fault taxonomy.
func kindOf(err error) faults.Kind {
	switch {
	case errors.Is(err, errPanic):
		return faults.QuizSessionCorrupted
	case errors.Is(err, remote.ErrAuthExpired):
		return faults.AuthSessionExpired
	case errors.Is(err, remote.ErrAuthInvalid):
		return faults.AuthSessionInvalid
	case errors.Is(err, remote.ErrRetryable):
		return faults.QuizSessionSyncFailed
	case errors.Is(err, context.DeadlineExceeded):
		return faults.QuizSessionSyncFailed
	default:
		return faults.QuizSessionCorrupted
	}
}
