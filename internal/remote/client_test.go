package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquizpro/session-engine/internal/model"
)

// refreshableToken flips its value on Refresh.
type refreshableToken struct {
	mu        sync.Mutex
	current   string
	refreshed int
}

func (t *refreshableToken) Token(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, nil
}

func (t *refreshableToken) Refresh(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshed++
	t.current = "fresh-token"
	return nil
}

func newTestClient(url string, tokens TokenSource) *Client {
	return NewClient(url, tokens, 2*time.Second, zerolog.Nop())
}

func testAnswer() model.AnswerRecord {
	return model.AnswerRecord{
		SessionID:      uuid.New(),
		QuestionID:     "q7",
		SelectedOption: "C",
		AnsweredAt:     time.Now().UTC(),
	}
}

func TestSubmitAnswerSetsIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, StaticToken("tok"))
	rec := testAnswer()
	require.NoError(t, c.SubmitAnswer(context.Background(), rec))

	assert.Equal(t, rec.SessionID.String()+":"+rec.QuestionID, gotKey)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestRefreshOn401ThenSuccess(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tokens := &refreshableToken{current: "stale-token"}
	c := newTestClient(srv.URL, tokens)

	require.NoError(t, c.SubmitAnswer(context.Background(), testAnswer()))
	assert.Equal(t, 2, calls, "one failed attempt, one after refresh")
	assert.Equal(t, 1, tokens.refreshed)
}

func TestPersistent401BecomesAuthInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &refreshableToken{current: "whatever"})
	err := c.SubmitAnswer(context.Background(), testAnswer())

	assert.ErrorIs(t, err, ErrAuthInvalid, "401 after refresh is invalid, not expired")
	assert.NotErrorIs(t, err, ErrAuthExpired)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusForbidden, ErrAuthInvalid},
		{http.StatusRequestTimeout, ErrRetryable},
		{http.StatusTooManyRequests, ErrRetryable},
		{http.StatusInternalServerError, ErrRetryable},
		{http.StatusBadGateway, ErrRetryable},
		{http.StatusUnprocessableEntity, ErrPermanent},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := newTestClient(srv.URL, StaticToken("tok"))
		err := c.SubmitAnswer(context.Background(), testAnswer())
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		srv.Close()
	}
}

func TestTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := newTestClient(srv.URL, StaticToken("tok"))
	err := c.SubmitAnswer(context.Background(), testAnswer())
	assert.ErrorIs(t, err, ErrRetryable)
}

func TestGetSessionNotFoundReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, StaticToken("tok"))
	state, err := c.GetSession(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, state, "upstream has never seen the session")
}

func TestCompleteSessionDecodesScore(t *testing.T) {
	sessionID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sessionID.String()+":complete", r.Header.Get("Idempotency-Key"))

		var req completeSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.FinalAnswers, 2)

		json.NewEncoder(w).Encode(CompletionResult{
			Score:     60,
			Breakdown: map[string]float64{"cardiology": 100, "pharmacology": 20},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, StaticToken("tok"))
	answers := []model.AnswerRecord{testAnswer(), testAnswer()}

	result, err := c.CompleteSession(context.Background(), sessionID, answers)
	require.NoError(t, err)
	assert.Equal(t, float64(60), result.Score)
	assert.Equal(t, float64(100), result.Breakdown["cardiology"])
}
