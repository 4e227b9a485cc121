/*
Package events provides an in-memory event broker for loom's structured
event stream.

The events package implements a lightweight event bus broadcasting
Injector and Worker Host lifecycle transitions to interested
subscribers. It has no topics: every event is broadcast to every
subscriber, with non-blocking delivery, so a slow subscriber never
stalls the Injector's own event loop, which is the broker's only
publisher.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - No topics (all events broadcast)         │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Injector.emit → Event Channel (buf: 256)   │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buf: 64 each)         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Kinds                       │          │
	│  │                                              │          │
	│  │  Factory Events:                            │          │
	│  │    - factory_added                          │          │
	│  │    - factory_removed                        │          │
	│  │                                              │          │
	│  │  Item Events:                                │          │
	│  │    - item_pushed                             │          │
	│  │    - item_revoked                            │          │
	│  │                                              │          │
	│  │  Child (worker) Events:                      │          │
	│  │    - child_starting                          │          │
	│  │    - child_started                           │          │
	│  │    - child_stopping                          │          │
	│  │    - child_stopped                           │          │
	│  │                                              │          │
	│  │  RPC Events:                                 │          │
	│  │    - rpc_failed                              │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  Test suites: assert on event ordering      │          │
	│  │  Operators: stream lifecycle to a sink      │          │
	│  │  Metrics: already counted at the source     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus owned by one Injector instance
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel, idempotent Stop

Event:
  - Kind: one of the fixed event kinds above
  - Timestamp: when the event occurred (assigned on Publish if zero)
  - FactoryID / ItemKey: the subject of the event, when applicable
  - Message / Err: human-readable detail and, where relevant, the
    underlying error (e.g. a spawn_timeout cause)
  - Metadata: free-form key-value pairs for additional context

Subscriber:
  - A chan *Event, buffered to 64 entries to absorb bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Flow

Publish Flow:
 1. The Injector calls broker.Publish(event) from its single loop
    goroutine after a state transition
 2. Event added to the broker's own event channel (non-blocking)
 3. Broadcast loop receives the event
 4. Event sent to every subscriber channel with buffer space
 5. Subscribers with full buffers skip the event (no blocking)

Subscribe Flow:
 1. A caller calls broker.Subscribe()
 2. A new buffered channel is created and registered
 3. The caller ranges over the returned channel in its own goroutine

Unsubscribe Flow:
 1. Caller calls broker.Unsubscribe(sub)
 2. Channel removed from the subscriber set and closed
 3. A ranging goroutine on sub sees its loop end

# Usage

Creating and starting a broker (usually done once, inside engine.Start):

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to the stream:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			fmt.Printf("%s: factory=%s item=%s\n", ev.Kind, ev.FactoryID, ev.ItemKey)
		}
	}()

Publishing (normally only pkg/injector and pkg/host do this):

	broker.Publish(&events.Event{
		Kind:      events.ChildStarted,
		FactoryID: "db-connector",
	})

# Design Patterns

Non-Blocking Publish:
  - Publish sends to a buffered channel and returns immediately
  - Events may be dropped under sustained subscriber overload
  - Trade-off: the Injector's own progress over guaranteed delivery to
    every observer

Fan-Out, No Topics:
  - A single event is broadcast to every subscriber
  - Each subscriber filters by Kind itself if it only cares about some

Fire-and-Forget:
  - No acknowledgment, no retry
  - Appropriate for an observability stream, not for anything the
    engine's own correctness depends on — the Injector's internal
    state transitions happen whether or not anyone is subscribed

# Limitations

  - In-memory only; no persistence or replay, matching the engine's own
    "no persisted state" stance
  - No per-kind filtering at the broker; subscribers filter client-side
  - No delivery guarantee under a full subscriber buffer

# See Also

  - pkg/injector for the only in-tree publisher of factory/item/child events
  - pkg/host for the only in-tree publisher of rpc_failed events
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
