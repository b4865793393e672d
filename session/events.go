package session

import (
	"sync"
	"time"
)

type EventType string

const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventSwitched  EventType = "switched"
	EventSuspended EventType = "suspended"
	EventResumed   EventType = "resumed"
	EventCompleted EventType = "completed"
	EventClosed    EventType = "closed"
)

type Event struct {
	Type      EventType `json:"type"`
	SessionId string    `json:"session_id"`
	SaleId    string    `json:"sale_id,omitempty"`
	At        time.Time `json:"at"`
}

// Broadcaster fans session lifecycle events out to subscribers. Publishing
// never blocks: a subscriber that stops draining loses events instead of
// stalling the register.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextId      int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int]chan Event)}
}

// Subscribe returns the event channel and an unsubscribe func. Unsubscribe
// is idempotent and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextId
	b.nextId++
	ch := make(chan Event, 16)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

func (b *Broadcaster) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Full buffer: drop rather than block.
		}
	}
}
