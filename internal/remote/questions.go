package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/medquizpro/session-engine/internal/model"
	"github.com/rs/zerolog"
)

// QuestionProvider fetches ordered question sets from the content service.
// It may legitimately return fewer questions than requested; the engine
// degrades to the available count.
type QuestionProvider interface {
	FetchQuestions(ctx context.Context, mode model.SessionMode, count int, filters []string) ([]model.Question, error)
}

// QuestionClient is the HTTP QuestionProvider.
type QuestionClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	timeout time.Duration
	log     zerolog.Logger
}

// NewQuestionClient creates a QuestionClient.
func NewQuestionClient(baseURL string, tokens TokenSource, timeout time.Duration, log zerolog.Logger) *QuestionClient {
	return &QuestionClient{
		baseURL: baseURL,
		http:    &http.Client{},
		tokens:  tokens,
		timeout: timeout,
		log:     log.With().Str("component", "question_client").Logger(),
	}
}

type questionListResponse struct {
	Questions []model.Question `json:"questions"`
}

// FetchQuestions implements QuestionProvider.
func (c *QuestionClient) FetchQuestions(ctx context.Context, mode model.SessionMode, count int, filters []string) ([]model.Question, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("mode", string(mode))
	q.Set("count", strconv.Itoa(count))
	if len(filters) > 0 {
		q.Set("filters", strings.Join(filters, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/questions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: token source: %v", ErrAuthInvalid, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch questions: status %d", ErrRetryable, resp.StatusCode)
	}

	var body questionListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	if len(body.Questions) < count {
		c.log.Warn().
			Int("requested", count).
			Int("received", len(body.Questions)).
			Msg("Provider returned fewer questions than requested")
	}
	return body.Questions, nil
}

// IsRetryable reports whether an upstream error should be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable) || errors.Is(err, ErrAuthExpired)
}
