package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// Deadlines for the session stream. Writes are snapshot-sized and must not
// hang a slow consumer past a bound; reads idle for minutes between user
// actions.
const (
	writeDeadline = 10 * time.Second
	readDeadline  = 5 * time.Minute
)

// WriteTyped sends one typed stream event (snapshot, accepted, ended, ...)
// to the client.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(v)
}

// WriteError sends an ErrorResponse without closing the stream.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadRaw returns the next client action envelope as raw bytes, bounding
// the idle wait. The caller decodes the envelope twice (action, then the
// action's payload), so the bytes are handed back undecoded.
func ReadRaw(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	_, raw, err := conn.ReadMessage()
	return raw, err
}
