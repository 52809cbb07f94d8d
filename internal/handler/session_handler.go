package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/medquizpro/session-engine/internal/engine"
	"github.com/medquizpro/session-engine/internal/middleware"
	"github.com/medquizpro/session-engine/internal/model"
	"github.com/medquizpro/session-engine/internal/response"
	"github.com/medquizpro/session-engine/internal/supervisor"
	"github.com/medquizpro/session-engine/internal/validator"
)

// SessionHandler handles the practice session lifecycle endpoints.
type SessionHandler struct {
	manager *engine.Manager
	sup     *supervisor.Supervisor
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(manager *engine.Manager, sup *supervisor.Supervisor) *SessionHandler {
	return &SessionHandler{manager: manager, sup: sup}
}

// StartSession godoc
// POST /api/v1/sessions
// Starts a new practice session for the authenticated user.
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var cfg model.SessionConfig
	if fields := validator.Bind(c, &cfg); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var ctrl *engine.Controller
	err := h.sup.Do(c.Request.Context(), nil, "start_session", func() error {
		var startErr error
		ctrl, startErr = h.manager.Start(c.Request.Context(), claims.UserID, cfg)
		return startErr
	})
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"snapshot": ctrl.GetSnapshot()})
}

// GetSession godoc
// GET /api/v1/sessions/:session_id
// Returns the latest snapshot, resuming the session from the durable
// cache if it is not in memory.
func (h *SessionHandler) GetSession(c *gin.Context) {
	ctrl, ok := h.loadController(c)
	if !ok {
		return
	}

	response.Success(c, http.StatusOK, gin.H{"snapshot": ctrl.GetSnapshot()})
}

// ResumeSession godoc
// POST /api/v1/sessions/resume
// Resumes the authenticated user's interrupted session, reconciling the
// cached snapshot against the remote.
func (h *SessionHandler) ResumeSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var ctrl *engine.Controller
	err := h.sup.Do(c.Request.Context(), nil, "resume_session", func() error {
		var resumeErr error
		ctrl, resumeErr = h.manager.ResumeUser(c.Request.Context(), claims.UserID)
		return resumeErr
	})
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"snapshot": ctrl.GetSnapshot()})
}

// SubmitAnswer godoc
// POST /api/v1/sessions/:session_id/answers
// Records an answer for the current question.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	ctrl, ok := h.loadController(c)
	if !ok {
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.sup.Do(c.Request.Context(), ctrl, "submit_answer", func() error {
		return ctrl.Answer(c.Request.Context(), req.QuestionID, req.SelectedOption)
	})
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"snapshot": ctrl.GetSnapshot()})
}

// CompleteSession godoc
// POST /api/v1/sessions/:session_id/complete
// Finishes the session early and begins finalization.
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	ctrl, ok := h.loadController(c)
	if !ok {
		return
	}

	err := h.sup.Do(c.Request.Context(), ctrl, "complete_session", func() error {
		return ctrl.Complete(c.Request.Context())
	})
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"snapshot": ctrl.GetSnapshot()})
}

// AbandonSession godoc
// DELETE /api/v1/sessions/:session_id
// Abandons the session. Recorded answers are still delivered.
func (h *SessionHandler) AbandonSession(c *gin.Context) {
	ctrl, ok := h.loadController(c)
	if !ok {
		return
	}

	err := h.sup.Do(c.Request.Context(), ctrl, "abandon_session", func() error {
		return ctrl.Abandon(c.Request.Context())
	})
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"snapshot": ctrl.GetSnapshot()})
}

// GetSessionHealth godoc
// GET /api/v1/sessions/:session_id/health
// Returns the session's error history and stability score.
func (h *SessionHandler) GetSessionHealth(c *gin.Context) {
	ctrl, ok := h.loadController(c)
	if !ok {
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"health": ctrl.Health(),
		"errors": ctrl.Errors(),
	})
}

// loadController resolves the :session_id param to an owned controller,
// resuming from the durable cache when needed. It writes the error
// response itself on failure.
func (h *SessionHandler) loadController(c *gin.Context) (*engine.Controller, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}

	ctrl, ok := h.manager.Get(sessionID)
	if !ok {
		ctrl, err = h.manager.ResumeSession(c.Request.Context(), sessionID)
		if err != nil {
			failEngine(c, err)
			return nil, false
		}
	}

	if ctrl.GetSnapshot().Session.UserID != claims.UserID {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return nil, false
	}

	return ctrl, true
}

// failEngine maps engine and supervisor errors onto API error codes.
func failEngine(c *gin.Context, err error) {
	var prompt *supervisor.RecoverablePrompt
	var terminal *supervisor.TerminalError

	switch {
	case errors.Is(err, engine.ErrSessionActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionActive)
	case errors.Is(err, engine.ErrNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	case errors.Is(err, engine.ErrNotCurrentQuestion):
		response.Fail(c, http.StatusConflict, response.ErrNotCurrentQuestion)
	case errors.Is(err, engine.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownQuestion)
	case errors.Is(err, engine.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, engine.ErrInvalidConfig):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidSessionConfig)
	case errors.Is(err, engine.ErrInitialization):
		response.Fail(c, http.StatusBadGateway, response.ErrSessionInitFailed)
	case errors.As(err, &prompt):
		response.Fail(c, http.StatusUnauthorized, response.ErrReauthRequired)
	case errors.As(err, &terminal):
		response.Fail(c, http.StatusInternalServerError, response.ErrSessionCorrupted)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
