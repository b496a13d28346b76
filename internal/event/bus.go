// Package event provides the pub/sub event bus the runtime uses as its UI sink.
//
// The bus is backed by watermill's gochannel for infrastructure while keeping
// direct subscriber dispatch so events retain their typed payloads. Per-sink
// ordering is guaranteed: a subscriber observes events in publish order.
package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an ID and its ordered delivery queue.
type subscriberEntry struct {
	id    uint64
	fn    Subscriber
	queue chan Event
	done  chan struct{}
}

// Bus is the event bus that manages pub/sub.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[EventType][]*subscriberEntry
	global      []*subscriberEntry

	nextID       uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context
}

// globalBus is the default event bus instance.
var globalBus = NewBus()

// NewBus creates a new event bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 256,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers:  make(map[EventType][]*subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

// Default returns the process-wide bus.
func Default() *Bus { return globalBus }

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// newEntry creates a subscriber entry with a dedicated delivery goroutine so
// each sink receives events in order without blocking publishers.
func (b *Bus) newEntry(fn Subscriber) *subscriberEntry {
	entry := &subscriberEntry{
		id:    b.newID(),
		fn:    fn,
		queue: make(chan Event, 256),
		done:  make(chan struct{}),
	}
	go func() {
		for {
			select {
			case e := <-entry.queue:
				entry.fn(e)
			case <-entry.done:
				// Drain whatever is left so final turn events are not lost.
				for {
					select {
					case e := <-entry.queue:
						entry.fn(e)
					default:
						return
					}
				}
			}
		}
	}()
	return entry
}

// Subscribe registers a subscriber for a specific event type on the default bus.
// Returns an unsubscribe function.
func Subscribe(eventType EventType, fn Subscriber) func() {
	return globalBus.Subscribe(eventType, fn)
}

func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	entry := b.newEntry(fn)
	b.subscribers[eventType] = append(b.subscribers[eventType], entry)

	return func() {
		b.unsubscribe(eventType, entry)
	}
}

// SubscribeAll registers a subscriber for all events on the default bus.
// Returns an unsubscribe function.
func SubscribeAll(fn Subscriber) func() {
	return globalBus.SubscribeAll(fn)
}

func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	entry := b.newEntry(fn)
	b.global = append(b.global, entry)

	return func() {
		b.unsubscribeGlobal(entry)
	}
}

func (b *Bus) unsubscribe(eventType EventType, target *subscriberEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == target.id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			close(entry.done)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(target *subscriberEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == target.id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			close(entry.done)
			break
		}
	}
}

// Publish sends an event to all subscribers on the default bus.
func Publish(event Event) {
	globalBus.Publish(event)
}

// Publish enqueues the event on every matching subscriber's ordered queue.
// Delivery is asynchronous with respect to the publisher but in-order per sink.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, entry := range b.subscribers[event.Type] {
		entry.enqueue(event)
	}
	for _, entry := range b.global {
		entry.enqueue(event)
	}
}

// PublishSync delivers the event to all subscribers before returning.
func PublishSync(event Event) {
	globalBus.PublishSync(event)
}

func (b *Bus) PublishSync(event Event) {
	b.mu.RLock()
	var targets []*subscriberEntry
	targets = append(targets, b.subscribers[event.Type]...)
	targets = append(targets, b.global...)
	b.mu.RUnlock()

	for _, entry := range targets {
		entry.fn(event)
	}
}

func (e *subscriberEntry) enqueue(event Event) {
	select {
	case e.queue <- event:
	case <-e.done:
	}
}

// Close shuts the bus down. Subsequent publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.closedCancel()
	b.pubsub.Close()

	for _, subs := range b.subscribers {
		for _, entry := range subs {
			close(entry.done)
		}
	}
	for _, entry := range b.global {
		close(entry.done)
	}
	b.subscribers = make(map[EventType][]*subscriberEntry)
	b.global = nil
}
