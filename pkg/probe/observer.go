package probe

import (
	"fmt"
	"sync"
	"time"

	"github.com/probelab/verve/pkg/flow"
)

// signalKind tags one observable stream event.
type signalKind int

const (
	signalSubscribe signalKind = iota
	signalNext
	signalComplete
	signalError
)

func (k signalKind) String() string {
	switch k {
	case signalSubscribe:
		return "subscription"
	case signalNext:
		return "item"
	case signalComplete:
		return "complete"
	case signalError:
		return "error"
	default:
		return "unknown"
	}
}

type signal[T any] struct {
	kind  signalKind
	value T
	err   error
	sub   flow.Subscription
}

func (s signal[T]) describe() string {
	switch s.kind {
	case signalNext:
		return fmt.Sprintf("item(%v)", s.value)
	case signalError:
		return fmt.Sprintf("error(%v)", s.err)
	default:
		return s.kind.String()
	}
}

// inbox is the unbounded, order-preserving hand-off between producer
// goroutines and the driving goroutine. Producers never block: pushes append
// under a mutex and nudge a buffered notify channel.
type inbox[T any] struct {
	mu     sync.Mutex
	queue  []signal[T]
	notify chan struct{}
}

func newInbox[T any]() *inbox[T] {
	return &inbox[T]{notify: make(chan struct{}, 1)}
}

func (in *inbox[T]) push(s signal[T]) {
	in.mu.Lock()
	in.queue = append(in.queue, s)
	in.mu.Unlock()
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

// take pops the next signal in arrival order, waiting until one is
// available. With hasDeadline set it gives up at deadline and returns
// ok=false.
func (in *inbox[T]) take(deadline time.Time, hasDeadline bool) (signal[T], bool) {
	var timer *time.Timer
	var timeout <-chan time.Time
	if hasDeadline {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		timer = time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		in.mu.Lock()
		if len(in.queue) > 0 {
			s := in.queue[0]
			in.queue = in.queue[1:]
			in.mu.Unlock()
			return s, true
		}
		in.mu.Unlock()

		select {
		case <-in.notify:
		case <-timeout:
			var zero signal[T]
			return zero, false
		}
	}
}

// observer implements the stream consumer role. Every callback is a
// non-blocking hand-off into the inbox; assertions happen on the driving
// goroutine, so producer goroutines never observe predicate failures.
type observer[T any] struct {
	in *inbox[T]
}

func (o *observer[T]) OnSubscribe(s flow.Subscription) {
	o.in.push(signal[T]{kind: signalSubscribe, sub: s})
}

func (o *observer[T]) OnNext(v T) {
	o.in.push(signal[T]{kind: signalNext, value: v})
}

func (o *observer[T]) OnComplete() {
	o.in.push(signal[T]{kind: signalComplete})
}

func (o *observer[T]) OnError(err error) {
	o.in.push(signal[T]{kind: signalError, err: err})
}
