package websocket

import "github.com/medquizpro/session-engine/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer          Action = "answer"
	ActionComplete        Action = "complete"
	ActionPing            Action = "ping"
	ActionNetworkLost     Action = "network_lost"
	ActionNetworkRestored Action = "network_restored"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest is sent by the client to record an answer for the
// current question.
type AnswerRequest struct {
	Action         Action `json:"action"`
	QuestionID     string `json:"question_id"`
	SelectedOption string `json:"selected_option"`
}

// CompleteRequest is sent by the client to finish the session early.
type CompleteRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot Event = "snapshot"
	EventAccepted Event = "accepted"
	EventRejected Event = "rejected"
	EventError    Event = "error"
	EventPong     Event = "pong"
	EventEnded    Event = "ended"
)

// SnapshotEvent pushes the latest session snapshot after every mutation,
// countdown tick, and sync acknowledgement.
type SnapshotEvent struct {
	Event    Event          `json:"event"`
	Snapshot model.Snapshot `json:"snapshot"`
}

// AcceptedResponse acknowledges a client action.
type AcceptedResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
}

// RejectedResponse reports a state-machine rejection. The session is
// unchanged; Code matches the HTTP API error codes.
type RejectedResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
	Code   string `json:"code"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// EndedEvent tells the client the feed is closing because the session
// reached a terminal state.
type EndedEvent struct {
	Event  Event               `json:"event"`
	Status model.SessionStatus `json:"status"`
}
