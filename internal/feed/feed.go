package feed

import (
	"sync"
	"time"
)

// Op is the kind of change a notification describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Collections that emit change notifications.
const (
	CollectionRecords = "production_records"
	CollectionDemand  = "item_demand"
	CollectionBacklog = "backlog"
)

// Event is a change notification pushed by the record store.
type Event struct {
	Collection     string    `json:"collection"`
	Op             Op        `json:"op"`
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	At             time.Time `json:"at"`
}

// Handler receives events. Handlers run on the publisher goroutine and must
// not block.
type Handler func(Event)

// Publisher is implemented by anything that emits change notifications.
type Publisher interface {
	Publish(ev Event)
}

// Broker fans change notifications out to subscribers.
type Broker struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Broker) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Publish delivers ev to every subscriber. A nil broker drops the event.
func (b *Broker) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
