// Package events delivers analysis progress in real time. Events are kept
// in an in-memory per-channel buffer so late subscribers and the polling
// endpoint both see the full history of a session, and WebSocket clients
// receive live pushes as components start and finish.
package events

// Event types published on session channels.
const (
	// Session lifecycle transitions (running, paused, completed, ...).
	EventTypeSessionStatus = "session.status"

	// Component lifecycle — one event type for all component transitions.
	EventTypeComponentStatus = "component.status"
)

// ComponentStatusStarted marks a component entering execution. Completion
// events carry the result status instead (ok, error, skipped_from_checkpoint).
const ComponentStatusStarted = "started"

// GlobalSessionsChannel carries session-level status events for every
// session. The session list view subscribes here.
const GlobalSessionsChannel = "sessions"

// SessionChannel returns the channel name for one session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // e.g. "session:abc-123"
	LastEventID *int   `json:"last_event_id,omitempty"` // for catchup
}
