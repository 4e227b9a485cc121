// Package events implements the engine's structured event stream: a
// publish/subscribe broker that lets external observers follow factory
// registration, item lifecycle, and worker lifecycle without polling the
// Injector's internal state.
package events

import (
	"sync"
	"time"
)

// Kind identifies the category of an Event. The set is fixed by the
// engine's external contract; new kinds are additive, never repurposed.
type Kind string

const (
	FactoryAdded   Kind = "factory_added"
	FactoryRemoved Kind = "factory_removed"
	ItemPushed     Kind = "item_pushed"
	ItemRevoked    Kind = "item_revoked"
	ChildStarting  Kind = "child_starting"
	ChildStarted   Kind = "child_started"
	ChildStopping  Kind = "child_stopping"
	ChildStopped   Kind = "child_stopped"
	RPCFailed      Kind = "rpc_failed"
)

// Event is one entry in the engine's event stream.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	FactoryID string
	ItemKey   string
	Message   string
	Err       error
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution. A single event is
// delivered to every subscriber that has buffer space; subscribers that
// fall behind silently miss events rather than blocking the publisher,
// since the engine's loop goroutine is the publisher and must never stall
// on a slow consumer.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Non-blocking once the
// broker's own event queue has room; if the broker has been stopped the
// event is dropped.
func (b *Broker) Publish(event *Event) {
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

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
