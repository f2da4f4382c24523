package session

import (
	"slices"
	"time"
)

// EventAuthChange is the type of every event the manager emits.
const EventAuthChange = "auth-change"

const (
	ReasonTokensSet     = "tokens-set"
	ReasonRefreshed     = "refreshed"
	ReasonCleared       = "cleared"
	ReasonRefreshFailed = "refresh-failed"
	ReasonReloaded      = "reloaded"
)

// Event tells subscribers that tokens were installed or removed. Seq orders
// events from one Manager; subscribers never see a lower Seq after a higher
// one.
type Event struct {
	Type          string    `json:"type"`
	Seq           uint64    `json:"seq"`
	Authenticated bool      `json:"authenticated"`
	Reason        string    `json:"reason"`
	At            time.Time `json:"at"`
}

type subscriber struct {
	id int
	fn func(Event)
}

// Subscribe registers fn for auth-change events. Handlers run synchronously,
// in subscription order, and must not block.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subscribers = slices.DeleteFunc(m.subscribers, func(s subscriber) bool {
			return s.id == id
		})
	}
}

// eventLocked stamps an event with the next sequence number. It must be
// called with mu held, in the same critical section as the state change it
// describes.
func (m *Manager) eventLocked(authenticated bool, reason string) Event {
	m.eventSeq++
	return Event{
		Type:          EventAuthChange,
		Seq:           m.eventSeq,
		Authenticated: authenticated,
		Reason:        reason,
		At:            m.now(),
	}
}

// publish must be called without mu held. An event older than one already
// delivered describes a state that no longer exists and is dropped.
func (m *Manager) publish(event Event) {
	m.mu.Lock()
	if event.Seq <= m.lastPublished {
		m.mu.Unlock()
		m.logger.Debug("dropping stale auth event", "reason", event.Reason, "seq", event.Seq)
		return
	}
	m.lastPublished = event.Seq
	subscribers := slices.Clone(m.subscribers)
	m.mu.Unlock()

	for _, s := range subscribers {
		s.fn(event)
	}
}
