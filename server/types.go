package server

import "github.com/lwp001/mixlab/protocol"

// Server → client message types.
const (
	// MessageHello carries the session id and workspace snapshot on
	// connect.
	MessageHello = "hello"
	// MessageEvent relays one engine event (ServerUpdate or Sync).
	MessageEvent = "event"
	// MessagePerformance carries the latest performance snapshot.
	MessagePerformance = "performance"
	// MessageError reports a per-command failure such as busy or
	// rate_limited; the session stays open.
	MessageError = "error"
)

// ServerMessage is the envelope for everything the server writes to a
// websocket client.
type ServerMessage struct {
	Type        string                    `json:"type"`
	Session     protocol.SessionId        `json:"session,omitempty"`
	State       *protocol.WorkspaceState  `json:"state,omitempty"`
	Event       *protocol.EngineEvent     `json:"event,omitempty"`
	Performance *protocol.PerformanceInfo `json:"performance,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// Error values reported in MessageError envelopes.
const (
	ErrorBusy        = "busy"
	ErrorRateLimited = "rate_limited"
)
