package event

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handler consumes events delivered by the bus.
type Handler func(evt Event)

// BusConfig configures bus behavior.
type BusConfig struct {
	// BufferSize is the channel buffer size per subscription.
	// Default: 256
	BufferSize int

	// OnDrop is called when a subscription's buffer is full and an event
	// is dropped.
	OnDrop func(evt Event, subscriberID string)
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{BufferSize: 256}

// Bus is an in-memory pub/sub fan-out for execution events.
// Publish never blocks: a subscriber that cannot keep up drops events.
type Bus struct {
	config BusConfig

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	byType        map[string]map[string]*subscription
	wildcards     map[string]*subscription

	nextID atomic.Int64
	closed atomic.Bool
}

// NewBus creates a new bus.
func NewBus(config BusConfig) *Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	return &Bus{
		config:        config,
		subscriptions: make(map[string]*subscription),
		byType:        make(map[string]map[string]*subscription),
		wildcards:     make(map[string]*subscription),
	}
}

type subscription struct {
	id      string
	types   []string
	handler Handler
	events  chan Event
	done    chan struct{}
	bus     *Bus
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe removes the subscription and stops delivery.
	Unsubscribe()
}

// Publish delivers an event to all matching subscribers.
func (b *Bus) Publish(evt Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.wildcards))
	if typed, ok := b.byType[evt.Type]; ok {
		for _, sub := range typed {
			subs = append(subs, sub)
		}
	}
	for _, sub := range b.wildcards {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.events <- evt:
		default:
			if b.config.OnDrop != nil {
				b.config.OnDrop(evt, sub.id)
			}
		}
	}
}

// Subscribe creates a subscription for specific event types.
func (b *Bus) Subscribe(types []string, handler Handler) Subscription {
	return b.subscribe(types, handler)
}

// SubscribeAll subscribes to all events.
func (b *Bus) SubscribeAll(handler Handler) Subscription {
	return b.subscribe(nil, handler)
}

func (b *Bus) subscribe(types []string, handler Handler) *subscription {
	if b.closed.Load() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      fmt.Sprintf("sub-%d", b.nextID.Add(1)),
		types:   types,
		handler: handler,
		events:  make(chan Event, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	b.subscriptions[sub.id] = sub

	if len(types) == 0 {
		b.wildcards[sub.id] = sub
	} else {
		for _, t := range types {
			if b.byType[t] == nil {
				b.byType[t] = make(map[string]*subscription)
			}
			b.byType[t][sub.id] = sub
		}
	}

	go sub.process()
	return sub
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscriptions {
		close(sub.done)
		delete(b.subscriptions, id)
	}
	b.byType = make(map[string]map[string]*subscription)
	b.wildcards = make(map[string]*subscription)
	return nil
}

func (s *subscription) process() {
	for {
		select {
		case evt := <-s.events:
			s.handler(evt)
		case <-s.done:
			// Drain what was already buffered before shutdown.
			for {
				select {
				case evt := <-s.events:
					s.handler(evt)
				default:
					return
				}
			}
		}
	}
}

// Unsubscribe removes the subscription.
func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if _, ok := s.bus.subscriptions[s.id]; !ok {
		return
	}
	delete(s.bus.subscriptions, s.id)
	delete(s.bus.wildcards, s.id)
	for _, t := range s.types {
		if typed, ok := s.bus.byType[t]; ok {
			delete(typed, s.id)
		}
	}
	close(s.done)
}
