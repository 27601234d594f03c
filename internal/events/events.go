// Package events implements the typed pub/sub bus of spec.md §4.8: a
// sequential emitter where subscribers may short-circuit a decision by
// returning a value. Grounded in the teacher's runsummary tracer/callback
// pattern (internal/runsummary: TrackTask returns a tracer closure invoked
// at each lifecycle point) and internal/analytics.Recorder (a registered
// sink invoked in order, without a formal short-circuit flow), generalised
// here into the Continue/Break/Return(string) control flow spec.md
// requires.
package events

import (
	"context"
	"sync"
)

// FlowKind tags an EventFlow's variant.
type FlowKind int

const (
	Continue FlowKind = iota
	Break
	Return
)

// Flow is the value a Subscriber returns from Handle.
type Flow struct {
	Kind  FlowKind
	Value string // populated when Kind == Return
}

// ContinueFlow is the zero-value "keep dispatching" flow.
var ContinueFlow = Flow{Kind: Continue}

// BreakFlow halts dispatch without producing a value.
var BreakFlow = Flow{Kind: Break}

// ReturnFlow halts dispatch and yields value to the emitter's caller.
func ReturnFlow(value string) Flow { return Flow{Kind: Return, Value: value} }

// Name identifies an event kind, e.g. "TargetOutputCacheCheck".
type Name string

// Event is a tagged payload dispatched to subscribers. Data carries
// borrowed references to the relevant entities (targets, hashes, errors);
// subscribers must not retain it past the Handle call.
type Event struct {
	Name Name
	Data interface{}
}

// Subscriber reacts to an Event and may suspend for I/O (network,
// filesystem). Handle must honour ctx cancellation at its own suspension
// points.
type Subscriber interface {
	Handle(ctx context.Context, ev Event) (Flow, error)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, ev Event) (Flow, error)

func (f SubscriberFunc) Handle(ctx context.Context, ev Event) (Flow, error) { return f(ctx, ev) }

// Emitter dispatches events to subscribers in registration order. The
// first subscriber returning Break or Return halts dispatch for that
// emit; subsequent subscribers are skipped. Emit is sequential per event:
// subscriber invocations never run concurrently for a single emit, but
// two goroutines emitting different events race each other per the
// underlying lock, which only protects the subscriber list.
type Emitter struct {
	mu          sync.RWMutex
	subscribers map[Name][]Subscriber
}

// New returns an empty Emitter.
func New() *Emitter {
	return &Emitter{subscribers: map[Name][]Subscriber{}}
}

// On registers sub to be invoked whenever name is emitted, in the order
// registrations occurred.
func (e *Emitter) On(name Name, sub Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers[name] = append(e.subscribers[name], sub)
}

// OnFunc is a convenience wrapper around On for function subscribers.
func (e *Emitter) OnFunc(name Name, fn func(ctx context.Context, ev Event) (Flow, error)) {
	e.On(name, SubscriberFunc(fn))
}

// Emit dispatches ev to every subscriber registered for ev.Name, in
// registration order, stopping at the first Break or Return.
func (e *Emitter) Emit(ctx context.Context, ev Event) (Flow, error) {
	e.mu.RLock()
	subs := append([]Subscriber(nil), e.subscribers[ev.Name]...)
	e.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return Flow{}, ctx.Err()
		default:
		}
		flow, err := sub.Handle(ctx, ev)
		if err != nil {
			return flow, err
		}
		if flow.Kind == Break || flow.Kind == Return {
			return flow, nil
		}
	}
	return ContinueFlow, nil
}
