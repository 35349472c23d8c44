package events

import (
	"log/slog"
	"sync"
)

// historyLimit caps the per-channel event buffer. Analysis sessions emit a
// bounded number of events (two per component plus lifecycle transitions),
// so the cap is generous headroom, not a tuning knob.
const historyLimit = 512

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events; catchup recovers them.
const subscriberBuffer = 64

// Envelope is one published event: a channel-scoped sequence ID plus the
// JSON-ready payload. IDs are monotonic per channel and let clients resume
// with catchup after a dropped connection.
type Envelope struct {
	ID      int         `json:"event_id"`
	Channel string      `json:"channel"`
	Payload interface{} `json:"payload"`
}

type channelState struct {
	nextID      int
	history     []Envelope
	subscribers map[int]chan Envelope
}

// Bus is the in-process event fan-out. Publishing never blocks: slow
// subscribers drop events and recover via History.
type Bus struct {
	mu        sync.Mutex
	channels  map[string]*channelState
	nextSubID int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{channels: make(map[string]*channelState)}
}

func (b *Bus) channel(name string) *channelState {
	st, ok := b.channels[name]
	if !ok {
		st = &channelState{nextID: 1, subscribers: make(map[int]chan Envelope)}
		b.channels[name] = st
	}
	return st
}

// Publish appends the payload to the channel history and fans it out to all
// subscribers. Returns the assigned envelope.
func (b *Bus) Publish(channel string, payload interface{}) Envelope {
	b.mu.Lock()
	st := b.channel(channel)

	evt := Envelope{ID: st.nextID, Channel: channel, Payload: payload}
	st.nextID++
	st.history = append(st.history, evt)
	if len(st.history) > historyLimit {
		st.history = st.history[len(st.history)-historyLimit:]
	}

	// Snapshot subscriber channels so sends happen without the lock.
	targets := make([]chan Envelope, 0, len(st.subscribers))
	for _, ch := range st.subscribers {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			slog.Warn("Dropping event for slow subscriber", "channel", channel, "event_id", evt.ID)
		}
	}
	return evt
}

// Subscribe registers a new subscriber on the channel. The returned ID is
// used to Unsubscribe; the returned channel is closed on Unsubscribe.
func (b *Bus) Subscribe(channel string) (int, <-chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	ch := make(chan Envelope, subscriberBuffer)
	b.channel(channel).subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(channel string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.channels[channel]
	if !ok {
		return
	}
	if ch, ok := st.subscribers[id]; ok {
		delete(st.subscribers, id)
		close(ch)
	}
}

// History returns up to limit buffered events with ID > sinceID, oldest
// first. limit <= 0 means no limit.
func (b *Bus) History(channel string, sinceID, limit int) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.channels[channel]
	if !ok {
		return nil
	}

	var out []Envelope
	for _, evt := range st.history {
		if evt.ID <= sinceID {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Drop discards a channel's history and disconnects its subscribers.
// Called when a session is deleted.
func (b *Bus) Drop(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.channels[channel]
	if !ok {
		return
	}
	for id, ch := range st.subscribers {
		delete(st.subscribers, id)
		close(ch)
	}
	delete(b.channels, channel)
}
