// Package events provides the typed publish/subscribe registry that decouples
// channel-level raw events from application-level consumers.
package events

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler consumes one event payload. Payloads are raw JSON as received from
// the channel; consumers unmarshal into their own types.
type Handler func(payload json.RawMessage)

// Subscription identifies one registered handler so it can be removed later.
// Go functions are not comparable, so removal goes through the handle rather
// than the handler reference.
type Subscription struct {
	event string
	id    uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Dispatcher routes named events to subscribers. Handlers for one event run
// synchronously in registration order; a panicking handler is isolated and
// logged without blocking its siblings.
type Dispatcher struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscriber
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs: make(map[string][]subscriber),
	}
}

// On registers a handler for the named event and returns its subscription.
func (d *Dispatcher) On(event string, handler Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	sub := Subscription{event: event, id: d.nextID}
	d.subs[event] = append(d.subs[event], subscriber{id: sub.id, handler: handler})
	return sub
}

// Off removes exactly the handler identified by the subscription. Removing an
// already-removed subscription is a no-op.
func (d *Dispatcher) Off(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.subs[sub.event]
	for i, s := range list {
		if s.id == sub.id {
			d.subs[sub.event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(d.subs[sub.event]) == 0 {
		delete(d.subs, sub.event)
	}
}

// Emit invokes every handler registered for the event, in registration order.
// Handlers registered or removed during dispatch take effect on the next Emit.
func (d *Dispatcher) Emit(event string, payload json.RawMessage) {
	d.mu.Lock()
	list := d.subs[event]
	// Snapshot so handlers can subscribe/unsubscribe without corrupting the walk.
	snapshot := make([]subscriber, len(list))
	copy(snapshot, list)
	d.mu.Unlock()

	for _, s := range snapshot {
		d.dispatch(event, s, payload)
	}
}

// dispatch runs one handler, containing panics so one bad subscriber cannot
// stop delivery to the rest.
func (d *Dispatcher) dispatch(event string, s subscriber, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", event).
				Uint64("subscription_id", s.id).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	s.handler(payload)
}

// HandlerCount reports how many handlers are registered for the event.
func (d *Dispatcher) HandlerCount(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[event])
}

// RemoveAll drops every subscription. Used on teardown.
func (d *Dispatcher) RemoveAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = make(map[string][]subscriber)
}
