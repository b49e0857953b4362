// Package flowtest provides hot publisher fixtures fed imperatively from
// tests. An Emitter delivers its signals from a dedicated goroutine so that
// harness code is exercised under genuinely concurrent delivery.
package flowtest

import (
	"sync"
	"sync/atomic"

	"github.com/probelab/verve/pkg/flow"
)

type eventKind int

const (
	eventNext eventKind = iota
	eventComplete
	eventError
)

type event[T any] struct {
	kind  eventKind
	value T
	err   error
}

// Emitter is a single-subscriber hot publisher. Signals queued before
// subscription are delivered once a subscriber attaches.
type Emitter[T any] struct {
	mu         sync.Mutex
	subscriber flow.Subscriber[T]
	pending    []event[T]
	inbox      chan event[T]
	requested  atomic.Int64
	cancelled  atomic.Bool
	closed     bool
}

// NewEmitter returns an Emitter ready to be subscribed and fed.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{inbox: make(chan event[T], 256)}
}

// Subscribe attaches the single subscriber and starts the delivery
// goroutine. Subscribing twice panics: replayable verifications must obtain
// a fresh Emitter per run.
func (e *Emitter[T]) Subscribe(s flow.Subscriber[T]) {
	e.mu.Lock()
	if e.subscriber != nil {
		e.mu.Unlock()
		panic("flowtest: Emitter supports a single subscriber")
	}
	e.subscriber = s
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	s.OnSubscribe(emitterSubscription[T]{e: e})

	go func() {
		for _, ev := range pending {
			e.deliver(s, ev)
		}
		for ev := range e.inbox {
			e.deliver(s, ev)
		}
	}()
}

func (e *Emitter[T]) deliver(s flow.Subscriber[T], ev event[T]) {
	if e.cancelled.Load() {
		return
	}
	switch ev.kind {
	case eventNext:
		s.OnNext(ev.value)
	case eventComplete:
		s.OnComplete()
	case eventError:
		s.OnError(ev.err)
	}
}

func (e *Emitter[T]) push(ev event[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if ev.kind != eventNext {
		e.closed = true
	}
	if e.subscriber == nil {
		e.pending = append(e.pending, ev)
		return
	}
	e.inbox <- ev
}

// Next queues an item signal.
func (e *Emitter[T]) Next(values ...T) {
	for _, v := range values {
		e.push(event[T]{kind: eventNext, value: v})
	}
}

// Complete queues the completion signal. No signals are accepted after it.
func (e *Emitter[T]) Complete() {
	e.push(event[T]{kind: eventComplete})
}

// Error queues a terminal error signal. No signals are accepted after it.
func (e *Emitter[T]) Error(err error) {
	e.push(event[T]{kind: eventError, err: err})
}

// Requested reports the total demand signalled by the subscriber.
func (e *Emitter[T]) Requested() int64 { return e.requested.Load() }

// Cancelled reports whether the subscriber cancelled.
func (e *Emitter[T]) Cancelled() bool { return e.cancelled.Load() }

type emitterSubscription[T any] struct {
	e *Emitter[T]
}

func (s emitterSubscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	if s.e.requested.Add(n) < 0 {
		s.e.requested.Store(flow.Unbounded)
	}
}

func (s emitterSubscription[T]) Cancel() {
	s.e.cancelled.Store(true)
}
