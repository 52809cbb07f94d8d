package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/medquizpro/session-engine/internal/engine"
	"github.com/medquizpro/session-engine/internal/middleware"
	"github.com/medquizpro/session-engine/internal/response"
	ws "github.com/medquizpro/session-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams live session snapshots and accepts session actions
// over one WebSocket connection.
type WSHandler struct {
	manager  *engine.Manager
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(manager *engine.Manager, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		manager:  manager,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:session_id/stream
// Upgrades to WebSocket: snapshots flow out after every mutation, tick,
// and sync acknowledgement; answer/complete actions flow in.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	ctrl, ok := h.manager.Get(sessionID)
	if !ok {
		ctrl, err = h.manager.ResumeSession(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
	}
	if ctrl.GetSnapshot().Session.UserID != claims.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("user_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Client connected")

	subID, snapshots := ctrl.Subscribe()
	defer ctrl.Unsubscribe(subID)

	// Writer goroutine: fan snapshots out to the client. Connection-level
	// write errors surface in the reader as a closed connection.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for snap := range snapshots {
			if err := ws.WriteTyped(conn, ws.SnapshotEvent{Event: ws.EventSnapshot, Snapshot: snap}); err != nil {
				return
			}
			if snap.Session.Status.Terminal() {
				ws.WriteTyped(conn, ws.EndedEvent{Event: ws.EventEnded, Status: snap.Session.Status})
				conn.Close()
				return
			}
		}
	}()

	// Initial snapshot so the client renders before the first mutation.
	if err := ws.WriteTyped(conn, ws.SnapshotEvent{Event: ws.EventSnapshot, Snapshot: ctrl.GetSnapshot()}); err != nil {
		return
	}

	for {
		raw, err := ws.ReadRaw(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		var envelope ws.RequestEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			ws.WriteError(conn, "malformed message")
			continue
		}

		switch envelope.Action {
		case ws.ActionAnswer:
			h.handleAnswer(c, conn, ctrl, raw)
		case ws.ActionComplete:
			if err := ctrl.Complete(c.Request.Context()); err != nil {
				writeActionErr(conn, ws.ActionComplete, err)
				continue
			}
			ws.WriteTyped(conn, ws.AcceptedResponse{Event: ws.EventAccepted, Action: ws.ActionComplete})
		case ws.ActionNetworkLost:
			ctrl.NetworkLost()
			ws.WriteTyped(conn, ws.AcceptedResponse{Event: ws.EventAccepted, Action: ws.ActionNetworkLost})
		case ws.ActionNetworkRestored:
			ctrl.NetworkRestored()
			ws.WriteTyped(conn, ws.AcceptedResponse{Event: ws.EventAccepted, Action: ws.ActionNetworkRestored})
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			ws.WriteError(conn, "unknown action")
		}
	}

	<-writerDone
	wsLog.Info().Msg("Client disconnected")
}

func (h *WSHandler) handleAnswer(c *gin.Context, conn *websocket.Conn, ctrl *engine.Controller, raw []byte) {
	var req ws.AnswerRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.QuestionID == "" || req.SelectedOption == "" {
		ws.WriteError(conn, "malformed answer")
		return
	}

	if err := ctrl.Answer(c.Request.Context(), req.QuestionID, req.SelectedOption); err != nil {
		writeActionErr(conn, ws.ActionAnswer, err)
		return
	}
	ws.WriteTyped(conn, ws.AcceptedResponse{Event: ws.EventAccepted, Action: ws.ActionAnswer})
}

// writeActionErr reports a rejection with its API error code; anything
// else degrades to a generic error event.
func writeActionErr(conn *websocket.Conn, action ws.Action, err error) {
	if engine.IsRejection(err) {
		ws.WriteTyped(conn, ws.RejectedResponse{
			Event:  ws.EventRejected,
			Action: action,
			Code:   string(rejectionCode(err)),
		})
		return
	}
	ws.WriteError(conn, "operation failed")
}

func rejectionCode(err error) response.ErrCode {
	switch {
	case errors.Is(err, engine.ErrNotActive):
		return response.ErrSessionNotActive
	case errors.Is(err, engine.ErrNotCurrentQuestion):
		return response.ErrNotCurrentQuestion
	case errors.Is(err, engine.ErrUnknownQuestion):
		return response.ErrUnknownQuestion
	case errors.Is(err, engine.ErrSessionNotFound):
		return response.ErrSessionNotFound
	default:
		return response.ErrInternal
	}
}
