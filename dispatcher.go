package clausedesk

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// Handler receives every envelope dispatched for the type it subscribed to.
// Each handler gets its own copy of the payload bytes.
type Handler func(Envelope)

// Token identifies a subscription. The zero Token is never issued.
type Token uint64

type subscription struct {
	token   Token
	handler Handler
}

// Dispatcher fans decoded envelopes out to subscribers by event type.
// Handlers run synchronously in registration order. Each Dispatch works
// on a snapshot of the subscriber list, so handlers may subscribe or
// unsubscribe without affecting the delivery in progress.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	owners map[Token]EventType
	next   Token
	logger zerolog.Logger
}

// NewDispatcher returns an empty Dispatcher. Handler panics are logged to
// logger.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		subs:   make(map[EventType][]subscription),
		owners: make(map[Token]EventType),
		logger: logger,
	}
}

// Subscribe registers h for events of type t.
func (d *Dispatcher) Subscribe(t EventType, h Handler) Token {
	t = t.canonical()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	tok := d.next
	d.subs[t] = append(d.subs[t], subscription{token: tok, handler: h})
	d.owners[tok] = t
	return tok
}

// Unsubscribe removes the subscription. Unknown or already removed
// tokens are ignored.
func (d *Dispatcher) Unsubscribe(tok Token) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.owners[tok]
	if !ok {
		return
	}
	delete(d.owners, tok)

	list := d.subs[t]
	kept := make([]subscription, 0, len(list))
	for _, s := range list {
		if s.token != tok {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(d.subs, t)
		return
	}
	d.subs[t] = kept
}

// Clear drops every subscription.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = make(map[EventType][]subscription)
	d.owners = make(map[Token]EventType)
}

// Len returns the number of subscriptions for t.
func (d *Dispatcher) Len(t EventType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[t.canonical()])
}

// Dispatch delivers payload to every subscriber of t.
func (d *Dispatcher) Dispatch(t EventType, payload json.RawMessage) {
	env := Envelope{Type: t.canonical(), Data: payload}

	d.mu.RLock()
	snapshot := append([]subscription(nil), d.subs[env.Type]...)
	d.mu.RUnlock()

	for _, s := range snapshot {
		d.invoke(s, env)
	}
}

func (d *Dispatcher) invoke(s subscription, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("event", string(env.Type)).
				Uint64("subscription", uint64(s.token)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	env.Data = bytes.Clone(env.Data)
	s.handler(env)
}

// emit marshals payload and dispatches it. Used for locally generated
// events such as connection_status.
func (d *Dispatcher) emit(t EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", string(t)).Msg("marshal local event")
		return
	}
	d.Dispatch(t, data)
}

// On subscribes a typed handler. The payload is decoded into T before
// fn is called; payloads that do not decode are logged and skipped for
// this handler only.
func On[T any](d *Dispatcher, t EventType, fn func(T)) Token {
	return d.Subscribe(t, func(env Envelope) {
		var v T
		if err := env.Decode(&v); err != nil {
			d.logger.Warn().Err(err).Str("event", string(env.Type)).Msg("drop undecodable payload")
			return
		}
		fn(v)
	})
}
