package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType names what happened
type EventType string

const (
	EventMemberRunOK      EventType = "member.run_ok"
	EventMemberRunFailed  EventType = "member.run_failed"
	EventMemberLoadFailed EventType = "member.load_failed"
	EventBatchStarted     EventType = "batch.started"
	EventBatchCompleted   EventType = "batch.completed"
	EventMinistepSkipped  EventType = "ministep.skipped"
	EventUpdateCompleted  EventType = "update.completed"
	EventCaseSelected     EventType = "case.selected"
)

// Event is one notification; Metadata carries identifiers such as iens,
// run_path or update_step
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// New stamps an event with a fresh ID and the current time
func New(eventType EventType, message string, metadata map[string]string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Message:   message,
		Metadata:  metadata,
	}
}

// Subscriber receives the events it subscribed to
type Subscriber chan *Event

// Broker fans engine events out to subscribers. Delivery is best effort: a
// subscriber whose buffer is full misses the event and the drop is counted.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]map[EventType]bool
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]map[EventType]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start runs the distribution loop until Stop
func (b *Broker) Start() {
	go b.run()
}

// Stop ends distribution; it may be called more than once
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none is given
func (b *Broker) Subscribe(only ...EventType) Subscriber {
	var filter map[EventType]bool
	if len(only) > 0 {
		filter = make(map[EventType]bool, len(only))
		for _, t := range only {
			filter[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[sub] = filter
	return sub
}

// Unsubscribe removes sub and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues event for distribution. A nil broker discards it, so
// components can run without one.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub, filter := range b.subscribers {
		if filter != nil && !filter[event.Type] {
			continue
		}
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped on full subscribers
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
