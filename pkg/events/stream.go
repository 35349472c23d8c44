package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit is the maximum number of events returned in a catchup
// response. If more events were missed, a catchup.overflow message tells
// the client to do a full REST reload.
const catchupLimit = 200

// ConnectionManager manages WebSocket connections and their channel
// subscriptions. Each subscription forwards bus events to the socket from
// its own goroutine.
type ConnectionManager struct {
	bus *Bus

	connections map[string]*Connection
	mu          sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is guarded by subMu: it is written by the read loop
// (subscribe/unsubscribe messages) and read by the deferred cleanup, but
// forwarding goroutines also remove themselves on bus channel close.
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	subMu         sync.Mutex
	subscriptions map[string]int // channel → bus subscriber ID
}

// NewConnectionManager creates a ConnectionManager on top of the bus.
func NewConnectionManager(bus *Bus, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		bus:          bus,
		connections:  make(map[string]*Connection),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]int),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	// Read loop — process client messages until the connection closes.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(c, &msg)
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// handleClientMessage dispatches a client message to the appropriate handler.
func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		// Auto catch-up: deliver buffered events so late subscribers see
		// the whole session, not just the tail.
		m.handleCatchup(c, msg.Channel, 0)

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for catchup"})
			return
		}
		if msg.LastEventID != nil {
			m.handleCatchup(c, msg.Channel, *msg.LastEventID)
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe registers the connection on a bus channel and starts the
// forwarding goroutine. Subscribing twice to the same channel is a no-op.
func (m *ConnectionManager) subscribe(c *Connection, channel string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if _, exists := c.subscriptions[channel]; exists {
		return
	}

	subID, eventCh := m.bus.Subscribe(channel)
	c.subscriptions[channel] = subID

	go func() {
		for {
			select {
			case evt, ok := <-eventCh:
				if !ok {
					return
				}
				if err := m.sendEnvelope(c, evt); err != nil {
					slog.Warn("Failed to send to WebSocket client",
						"connection_id", c.ID, "channel", channel, "error", err)
					return
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// unsubscribe removes the connection from a bus channel.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	c.subMu.Lock()
	subID, exists := c.subscriptions[channel]
	if exists {
		delete(c.subscriptions, channel)
	}
	c.subMu.Unlock()

	if exists {
		m.bus.Unsubscribe(channel, subID)
	}
}

// handleCatchup sends buffered events with ID > lastEventID to the client.
func (m *ConnectionManager) handleCatchup(c *Connection, channel string, lastEventID int) {
	events := m.bus.History(channel, lastEventID, catchupLimit+1)

	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}

	for _, evt := range events {
		if err := m.sendEnvelope(c, evt); err != nil {
			slog.Warn("Failed to send catchup event",
				"connection_id", c.ID, "error", err)
			return
		}
	}

	// If more events were missed than the catchup limit, tell the client to
	// do a full REST reload instead of paginating catchup requests.
	if hasMore {
		m.sendJSON(c, map[string]interface{}{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and all its subscriptions.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	c.subMu.Lock()
	subs := make(map[string]int, len(c.subscriptions))
	for ch, id := range c.subscriptions {
		subs[ch] = id
	}
	c.subscriptions = make(map[string]int)
	c.subMu.Unlock()

	for ch, id := range subs {
		m.bus.Unsubscribe(ch, id)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendEnvelope(c *Connection, evt Envelope) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return m.sendRaw(c, data)
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
