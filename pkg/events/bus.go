package events

import (
	"sync"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a per-nick pub/sub event bus with support for global
// subscribers. Services emit structured events; each subscriber (the
// uplink, the audit feed, tests) encodes them for its own transport.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber // folded nick -> subscribers
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
	}
}

// Subscribe registers a subscriber for events addressed to nick.
func (b *Bus) Subscribe(nick string, sub Subscriber) {
	key := chandb.Fold(nick)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[key] = append(b.subscribers[key], sub)
}

// Unsubscribe removes a subscriber for nick.
func (b *Bus) Unsubscribe(nick string, sub Subscriber) {
	key := chandb.Fold(nick)
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[key]
	for i, s := range subs {
		if s == sub {
			b.subscribers[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[key]) == 0 {
		delete(b.subscribers, key)
	}
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// UnsubscribeGlobal removes a global subscriber.
func (b *Bus) UnsubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.global {
		if s == sub {
			b.global = append(b.global[:i:i], b.global[i+1:]...)
			return
		}
	}
}

// Emit sends an event to the subscribers of ev.Target and all global
// subscribers.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	var subs []Subscriber
	if ev.Target != "" {
		subs = b.subscribers[chandb.Fold(ev.Target)]
	}
	globals := b.global
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
	for _, s := range globals {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// EmitTo sends an event to nick (overriding ev.Target).
func (b *Bus) EmitTo(nick string, ev Event) {
	ev.Target = nick
	b.Emit(ev)
}

// EmitToAll sends a copy of ev to each nick.
func (b *Bus) EmitToAll(nicks []string, ev Event) {
	for _, n := range nicks {
		b.EmitTo(n, ev)
	}
}

// Subscribers returns the number of subscribers for nick.
func (b *Bus) Subscribers(nick string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[chandb.Fold(nick)])
}

// Cleanup removes closed subscribers from all lists.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for nick, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			delete(b.subscribers, nick)
		} else {
			b.subscribers[nick] = active
		}
	}

	var activeGlobal []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			activeGlobal = append(activeGlobal, s)
		}
	}
	b.global = activeGlobal
}
