package events

import (
	"time"

	"github.com/insightlabs/marketscope/pkg/models"
)

// SessionStatusPayload is the payload for session.status events.
// Published when a session transitions between lifecycle states.
type SessionStatusPayload struct {
	Type      string               `json:"type"` // always EventTypeSessionStatus
	SessionID string               `json:"session_id"`
	Status    models.SessionStatus `json:"status"`
	Message   string               `json:"message,omitempty"`
	Timestamp string               `json:"timestamp"` // RFC3339Nano
}

// ComponentStatusPayload is the payload for component.status events.
// Single event type for all component lifecycle transitions.
type ComponentStatusPayload struct {
	Type       string `json:"type"` // always EventTypeComponentStatus
	SessionID  string `json:"session_id"`
	Component  string `json:"component"`
	Status     string `json:"status"` // started, completed, failed, skipped
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Message    string `json:"message,omitempty"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// Publisher publishes typed analysis events onto the bus. Session status
// events go to both the session channel and the global sessions channel so
// list views update without per-session subscriptions.
type Publisher struct {
	bus *Bus
}

// NewPublisher creates a publisher backed by the given bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

// SessionStatus publishes a session lifecycle transition.
func (p *Publisher) SessionStatus(sessionID string, status models.SessionStatus, message string) {
	payload := SessionStatusPayload{
		Type:      EventTypeSessionStatus,
		SessionID: sessionID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	p.bus.Publish(SessionChannel(sessionID), payload)
	p.bus.Publish(GlobalSessionsChannel, payload)
}

// ComponentProgress publishes one component lifecycle transition.
func (p *Publisher) ComponentProgress(evt models.ProgressEvent) {
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	p.bus.Publish(SessionChannel(evt.SessionID), ComponentStatusPayload{
		Type:       EventTypeComponentStatus,
		SessionID:  evt.SessionID,
		Component:  evt.Component,
		Status:     evt.Status,
		Step:       evt.Step,
		TotalSteps: evt.TotalSteps,
		Message:    evt.Message,
		Timestamp:  ts.Format(time.RFC3339Nano),
	})
}

// History returns the buffered events for a session, oldest first.
func (p *Publisher) History(sessionID string) []Envelope {
	return p.bus.History(SessionChannel(sessionID), 0, 0)
}

// Drop discards a session's buffered events.
func (p *Publisher) Drop(sessionID string) {
	p.bus.Drop(SessionChannel(sessionID))
}
