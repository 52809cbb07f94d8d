package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medquizpro/session-engine/internal/engine"
	"github.com/medquizpro/session-engine/internal/faults"
	"github.com/medquizpro/session-engine/internal/remote"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	corrupted bool
}

func (f *fakeTarget) Health() faults.Health { return faults.Health{} }
func (f *fakeTarget) MarkCorrupted()        { f.corrupted = true }

func newTestSupervisor(maxRestarts int) (*Supervisor, *faults.Tracker) {
	tracker := faults.NewTracker(16, faults.NewSanitizer("test-key"), zerolog.Nop())
	return New(tracker, maxRestarts, time.Millisecond, zerolog.Nop()), tracker
}

func TestSuccessRunsOnce(t *testing.T) {
	s, tracker := newTestSupervisor(3)
	calls := 0

	err := s.Do(context.Background(), &fakeTarget{}, "answer", func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, tracker.Recent())
}

func TestRejectionPassesThrough(t *testing.T) {
	s, tracker := newTestSupervisor(3)
	target := &fakeTarget{}
	calls := 0

	err := s.Do(context.Background(), target, "answer", func() error {
		calls++
		return engine.ErrNotCurrentQuestion
	})

	assert.ErrorIs(t, err, engine.ErrNotCurrentQuestion)
	assert.Equal(t, 1, calls, "rejections must not be retried")
	assert.False(t, target.corrupted)
	assert.Empty(t, tracker.Recent(), "rejections are results, not faults")
}

func TestInvalidConfigPassesThrough(t *testing.T) {
	s, _ := newTestSupervisor(3)

	err := s.Do(context.Background(), nil, "start", func() error {
		return engine.ErrInvalidConfig
	})

	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}

func TestRetryThenSuccess(t *testing.T) {
	s, tracker := newTestSupervisor(3)
	target := &fakeTarget{}
	calls := 0

	err := s.Do(context.Background(), target, "complete", func() error {
		calls++
		if calls < 3 {
			return remote.ErrRetryable
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.False(t, target.corrupted)

	history := tracker.Recent()
	require.Len(t, history, 2)
	last := history[len(history)-1]
	assert.Equal(t, faults.QuizSessionSyncFailed, last.Kind)
	assert.True(t, last.Recovered)
	assert.Equal(t, 2, last.RetryCount)
}

func TestAuthInvalidPromptsUser(t *testing.T) {
	s, _ := newTestSupervisor(3)
	target := &fakeTarget{}
	calls := 0

	err := s.Do(context.Background(), target, "answer", func() error {
		calls++
		return remote.ErrAuthInvalid
	})

	var prompt *RecoverablePrompt
	require.ErrorAs(t, err, &prompt)
	assert.Equal(t, faults.AuthSessionInvalid, prompt.Kind)
	assert.ErrorIs(t, err, remote.ErrAuthInvalid)
	assert.Equal(t, 1, calls, "user-action faults must not burn retries")
	assert.False(t, target.corrupted, "session state stays intact behind a prompt")
}

func TestExhaustionEscalates(t *testing.T) {
	s, tracker := newTestSupervisor(2)
	target := &fakeTarget{}
	calls := 0

	err := s.Do(context.Background(), target, "resume", func() error {
		calls++
		return remote.ErrRetryable
	})

	var terminal *TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, faults.RecoveryFailed, terminal.Kind)
	assert.ErrorIs(t, err, remote.ErrRetryable)
	assert.Equal(t, 3, calls)
	assert.True(t, target.corrupted)

	history := tracker.Recent()
	require.NotEmpty(t, history)
	assert.Equal(t, faults.RecoveryFailed, history[len(history)-1].Kind)
}

func TestPanicIsContained(t *testing.T) {
	s, _ := newTestSupervisor(1)
	target := &fakeTarget{}
	calls := 0

	err := s.Do(context.Background(), target, "answer", func() error {
		calls++
		panic("index out of range")
	})

	var terminal *TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, 2, calls, "a panicking op still gets its retry budget")
	assert.True(t, target.corrupted)
	assert.Contains(t, err.Error(), "index out of range")
}

func TestNilTargetEscalation(t *testing.T) {
	s, _ := newTestSupervisor(1)

	err := s.Do(context.Background(), nil, "start", func() error {
		return remote.ErrRetryable
	})

	var terminal *TerminalError
	require.ErrorAs(t, err, &terminal)
}

func TestContextCancelStopsRetries(t *testing.T) {
	tracker := faults.NewTracker(16, faults.NewSanitizer("test-key"), zerolog.Nop())
	s := New(tracker, 3, 100*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := s.Do(ctx, &fakeTarget{}, "answer", func() error {
		calls++
		return remote.ErrRetryable
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestErrorTypesUnwrap(t *testing.T) {
	base := errors.New("boom")
	prompt := &RecoverablePrompt{Kind: faults.AuthSessionExpired, Err: base}
	terminal := &TerminalError{Kind: faults.RecoveryFailed, Err: base}

	assert.ErrorIs(t, prompt, base)
	assert.ErrorIs(t, terminal, base)
	assert.Contains(t, prompt.Error(), string(faults.AuthSessionExpired))
	assert.Contains(t, terminal.Error(), string(faults.RecoveryFailed))
}
