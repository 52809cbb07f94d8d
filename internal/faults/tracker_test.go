package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(capacity int) *Tracker {
	return NewTracker(capacity, NewSanitizer("test-key"), zerolog.Nop())
}

func TestClassifyReturnsDirective(t *testing.T) {
	tr := newTestTracker(10)

	assert.Equal(t, DirectiveAutoRetry, tr.Classify(QuizSessionSyncFailed, errors.New("timeout"), nil))
	assert.Equal(t, DirectiveUserActionRequired, tr.Classify(AuthSessionInvalid, errors.New("401"), nil))
	assert.Equal(t, DirectiveFatal, tr.Classify(RecoveryFailed, errors.New("gave up"), nil))
}

func TestRingBufferCapsHistory(t *testing.T) {
	tr := newTestTracker(5)

	for i := 0; i < 12; i++ {
		tr.Classify(QuizSessionSyncFailed, fmt.Errorf("err %d", i), map[string]string{
			"attempt": fmt.Sprintf("%d", i),
		})
	}

	recent := tr.Recent()
	require.Len(t, recent, 5)
	// Oldest first; the first 7 were evicted.
	assert.Equal(t, "7", recent[0].SanitizedContext["attempt"])
	assert.Equal(t, "11", recent[4].SanitizedContext["attempt"])
}

func TestClassifySanitizesContext(t *testing.T) {
	tr := newTestTracker(10)

	tr.Classify(QuizSessionSyncFailed, errors.New("boom"), map[string]string{
		"user_id":         "user-42",
		"question_id":     "q-9",
		"selected_option": "B",
	})

	recent := tr.Recent()
	require.Len(t, recent, 1)
	ctx := recent[0].SanitizedContext
	assert.NotEqual(t, "user-42", ctx["user_id"])
	assert.NotEmpty(t, ctx["user_id"])
	assert.Equal(t, "q-9", ctx["question_id"])
	assert.NotContains(t, ctx, "selected_option")
}

func TestMarkRecovered(t *testing.T) {
	tr := newTestTracker(10)

	tr.Classify(QuizSessionSyncFailed, errors.New("first"), nil)
	tr.Classify(QuizSessionSyncFailed, errors.New("second"), nil)
	tr.MarkRecovered(QuizSessionSyncFailed, 3)

	recent := tr.Recent()
	require.Len(t, recent, 2)
	assert.False(t, recent[0].Recovered, "only the most recent of the kind is flagged")
	assert.True(t, recent[1].Recovered)
	assert.Equal(t, 3, recent[1].RetryCount)
}

func TestHealthScore(t *testing.T) {
	tr := newTestTracker(10)
	assert.Equal(t, 1.0, tr.Health().StabilityScore, "empty history is perfectly stable")

	tr.Classify(QuizSessionSyncFailed, errors.New("blip"), nil) // warning, -0.05
	h := tr.Health()
	assert.InDelta(t, 0.95, h.StabilityScore, 0.001)
	assert.Equal(t, 1, h.Counts[QuizSessionSyncFailed])

	tr.MarkRecovered(QuizSessionSyncFailed, 1)
	h = tr.Health()
	assert.Equal(t, 1.0, h.StabilityScore, "recovered faults carry no penalty")
	assert.Equal(t, 1, h.Recovered)

	tr.Classify(QuizSessionCorrupted, errors.New("bad state"), nil) // critical, -0.40
	assert.InDelta(t, 0.60, tr.Health().StabilityScore, 0.001)
}

func TestWatchSeesClassifiedFaults(t *testing.T) {
	tr := newTestTracker(10)

	var seen []SessionError
	tr.Watch(func(se SessionError) { seen = append(seen, se) })

	tr.Classify(StorageFailed, errors.New("redis down"), nil)

	require.Len(t, seen, 1)
	assert.Equal(t, StorageFailed, seen[0].Kind)
	assert.Equal(t, SeverityWarning, seen[0].Severity)
}

func TestSanitizerHashIsStable(t *testing.T) {
	s := NewSanitizer("key-a")

	h1 := s.Hash("user-42")
	h2 := s.Hash("user-42")
	assert.Equal(t, h1, h2, "same value hashes identically within a deployment")
	assert.Len(t, h1, 16)

	other := NewSanitizer("key-b")
	assert.NotEqual(t, h1, other.Hash("user-42"), "different keys yield different digests")
}

func TestSanitizerCleanLeavesInputUntouched(t *testing.T) {
	s := NewSanitizer("key")
	in := map[string]string{"user_id": "u1", "answer_text": "free text", "op": "sync"}

	out := s.Clean(in)

	assert.Equal(t, "u1", in["user_id"], "input map unchanged")
	assert.NotEqual(t, "u1", out["user_id"])
	assert.NotContains(t, out, "answer_text")
	assert.Equal(t, "sync", out["op"])
	assert.Nil(t, s.Clean(nil))
}
