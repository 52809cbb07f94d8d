// Package remote wraps the upstream session API and the question provider.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/medquizpro/session-engine/internal/model"
	"github.com/rs/zerolog"
)

// TokenSource supplies the bearer token for upstream calls. Refresh is
// invoked once on a 401 before the call is retried; a second 401 means the
// auth session is invalid, not merely expired.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// StaticToken is a TokenSource with no refresh path, used in tests and for
// service-to-service credentials.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
func (t StaticToken) Refresh(context.Context) error         { return nil }

// Sentinel errors the sync queue and engine branch on.
var (
	// ErrRetryable marks transport failures and 408/429/5xx responses.
	ErrRetryable = errors.New("remote: retryable failure")
	// ErrAuthExpired marks a 401 that survived one token refresh attempt.
	ErrAuthExpired = errors.New("remote: auth session expired")
	// ErrAuthInvalid marks a 401/403 where refresh cannot help.
	ErrAuthInvalid = errors.New("remote: auth session invalid")
	// ErrPermanent marks other 4xx responses; retrying cannot succeed.
	ErrPermanent = errors.New("remote: permanent failure")
)

// Client is a thin request/response wrapper around the upstream session
// API. It performs no retries of its own beyond the single silent token
// refresh; retry policy belongs to the sync queue.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	timeout time.Duration
	log     zerolog.Logger
}

// NewClient creates a Client with a bounded per-attempt timeout.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		tokens:  tokens,
		timeout: timeout,
		log:     log.With().Str("component", "remote_client").Logger(),
	}
}

// SessionState is the upstream's authoritative view of a session.
type SessionState struct {
	SessionID    uuid.UUID            `json:"session_id"`
	Status       model.SessionStatus  `json:"status"`
	CurrentIndex int                  `json:"current_index"`
	AnsweredIDs  []string             `json:"answered_question_ids"`
	Score        *model.Score         `json:"score,omitempty"`
}

// CompletionResult is the upstream's scoring response.
type CompletionResult struct {
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

type createSessionRequest struct {
	SessionID        uuid.UUID         `json:"session_id"`
	Mode             model.SessionMode `json:"mode"`
	QuestionIDs      []string          `json:"question_ids"`
	TimeLimitSeconds *int              `json:"time_limit_seconds,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
}

type submitAnswerRequest struct {
	QuestionID      string    `json:"question_id"`
	SelectedOption  string    `json:"selected_option"`
	ClientTimestamp time.Time `json:"client_timestamp"`
}

type completeSessionRequest struct {
	FinalAnswers []model.AnswerRecord `json:"final_answers"`
}

// CreateSession registers a session upstream. The engine supplies the id,
// so a retried create is a no-op server-side.
func (c *Client) CreateSession(ctx context.Context, sess model.Session) error {
	body := createSessionRequest{
		SessionID:        sess.ID,
		Mode:             sess.Mode,
		QuestionIDs:      sess.QuestionIDs,
		TimeLimitSeconds: sess.TimeLimitSeconds,
		StartedAt:        sess.StartedAt,
	}
	return c.do(ctx, http.MethodPost, "/sessions", sess.ID.String(), body, nil)
}

// SubmitAnswer delivers one answer. The idempotency key
// (sessionID, questionID) is sent as a header so upstream records at most
// one answer per pair no matter how often the call is retried.
func (c *Client) SubmitAnswer(ctx context.Context, rec model.AnswerRecord) error {
	path := fmt.Sprintf("/sessions/%s/answers", rec.SessionID)
	body := submitAnswerRequest{
		QuestionID:      rec.QuestionID,
		SelectedOption:  rec.SelectedOption,
		ClientTimestamp: rec.AnsweredAt,
	}
	return c.do(ctx, http.MethodPost, path, rec.IdempotencyKey(), body, nil)
}

// CompleteSession finalizes the session upstream and returns the
// server-computed score.
func (c *Client) CompleteSession(ctx context.Context, sessionID uuid.UUID, finalAnswers []model.AnswerRecord) (*CompletionResult, error) {
	path := fmt.Sprintf("/sessions/%s/complete", sessionID)
	var result CompletionResult
	err := c.do(ctx, http.MethodPost, path, sessionID.String()+":complete", completeSessionRequest{FinalAnswers: finalAnswers}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSession fetches the authoritative session state. A 404 returns
// (nil, nil): the upstream has never seen this session.
func (c *Client) GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionState, error) {
	path := fmt.Sprintf("/sessions/%s", sessionID)
	var state SessionState
	err := c.do(ctx, http.MethodGet, path, "", nil, &state)
	if errors.Is(err, ErrPermanent) && errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// errNotFound lets GetSession distinguish 404 from other permanent errors.
var errNotFound = errors.New("remote: not found")

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	err := c.attempt(ctx, method, path, idempotencyKey, body, out)
	if !errors.Is(err, ErrAuthExpired) {
		return err
	}

	// Single silent refresh, then one more attempt.
	if refreshErr := c.tokens.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("%w: refresh failed: %v", ErrAuthInvalid, refreshErr)
	}
	err = c.attempt(ctx, method, path, idempotencyKey, body, out)
	if errors.Is(err, ErrAuthExpired) {
		return fmt.Errorf("%w: still unauthorized after refresh", ErrAuthInvalid)
	}
	return err
}

func (c *Client) attempt(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: token source: %v", ErrAuthInvalid, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failure or per-attempt timeout: retryable.
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s", ErrAuthExpired, method, path)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrAuthInvalid, method, path)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrPermanent, errNotFound)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s: status %d", ErrRetryable, method, path, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %s %s: status %d", ErrPermanent, method, path, resp.StatusCode)
	}
}
