package escrow

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventCreated  EventKind = "created"
	EventFunded   EventKind = "funded"
	EventLocked   EventKind = "locked"
	EventSigned   EventKind = "signed"
	EventReleased EventKind = "released"
	EventRefunded EventKind = "refunded"
	EventDisputed EventKind = "disputed"
	EventResolved EventKind = "resolved"
	EventExpired  EventKind = "expired"
)

// Event is a lifecycle notification. Delivery is best-effort, the settlement
// path never blocks on a slow consumer.
type Event struct {
	Kind     EventKind `json:"kind"`
	EscrowID string    `json:"escrowId"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	At       time.Time `json:"at"`
}

type Notifier interface {
	Notify(Event)
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(Event) {}

// EventBus is a channel fan-out notifier for in-process consumers
type EventBus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a listener and returns its channel and an unsubscribe function
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	b.subs = append(b.subs, ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.subs {
			if c == ch {
				close(c)
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

func (b *EventBus) Notify(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// slow consumer, drop instead of blocking settlement
		}
	}
}
