package flow

import (
	"sync"
	"time"
)

// Scheduler schedules a callback after a delay. Both vclock.Virtual and
// vclock.Real satisfy it; sources built on it run identically under logical
// or wall-clock time.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

// Slice returns a cold publisher that emits the given values honoring
// demand, then completes. Its subscription supports sync fusion: once
// negotiated, push delivery stops and the consumer drains via Poll.
func Slice[T any](values ...T) Publisher[T] {
	return &slicePublisher[T]{values: values}
}

// Empty returns a publisher that completes immediately without items.
func Empty[T any]() Publisher[T] { return Slice[T]() }

type slicePublisher[T any] struct {
	values []T
}

func (p *slicePublisher[T]) Subscribe(s Subscriber[T]) {
	sub := &sliceSubscription[T]{values: p.values, actual: s}
	s.OnSubscribe(sub)
}

type sliceSubscription[T any] struct {
	mu        sync.Mutex
	values    []T
	actual    Subscriber[T]
	index     int
	requested int64
	emitting  bool
	cancelled bool
	completed bool
	fusion    FusionMode
}

func (s *sliceSubscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	if s.cancelled || s.fusion == FusionSync {
		s.mu.Unlock()
		return
	}
	if s.requested += n; s.requested < 0 {
		s.requested = Unbounded // overflow clamps to unbounded
	}
	if s.emitting {
		// Reentrant request from OnNext; the active drain picks it up.
		s.mu.Unlock()
		return
	}
	s.emitting = true
	s.mu.Unlock()
	s.drain()
}

func (s *sliceSubscription[T]) drain() {
	for {
		s.mu.Lock()
		if s.cancelled || s.completed {
			s.emitting = false
			s.mu.Unlock()
			return
		}
		if s.index >= len(s.values) {
			s.completed = true
			s.emitting = false
			s.mu.Unlock()
			s.actual.OnComplete()
			return
		}
		if s.requested <= 0 {
			s.emitting = false
			s.mu.Unlock()
			return
		}
		v := s.values[s.index]
		s.index++
		if s.requested != Unbounded {
			s.requested--
		}
		s.mu.Unlock()
		s.actual.OnNext(v)
	}
}

func (s *sliceSubscription[T]) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

func (s *sliceSubscription[T]) Negotiate(requested FusionMode) FusionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requested&FusionSync != 0 {
		s.fusion = FusionSync
		return FusionSync
	}
	return FusionNone
}

func (s *sliceSubscription[T]) Poll() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if s.cancelled || s.index >= len(s.values) {
		return zero, false
	}
	v := s.values[s.index]
	s.index++
	return v, true
}

func (s *sliceSubscription[T]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values) - s.index
}

func (s *sliceSubscription[T]) Clear() {
	s.mu.Lock()
	s.index = len(s.values)
	s.mu.Unlock()
}

// Fail returns a publisher that errors immediately without emitting items.
func Fail[T any](err error) Publisher[T] {
	return publisherFunc[T](func(s Subscriber[T]) {
		s.OnSubscribe(nopSubscription{})
		s.OnError(err)
	})
}

// Never returns a publisher that delivers a subscription and then nothing,
// ever. Useful for timeout verification.
func Never[T any]() Publisher[T] {
	return publisherFunc[T](func(s Subscriber[T]) {
		s.OnSubscribe(nopSubscription{})
	})
}

type publisherFunc[T any] func(Subscriber[T])

func (f publisherFunc[T]) Subscribe(s Subscriber[T]) { f(s) }

type nopSubscription struct{}

func (nopSubscription) Request(int64) {}
func (nopSubscription) Cancel()       {}

// AsyncFused returns a publisher whose subscription negotiates async fusion:
// values are buffered up front, a single data-available notification is
// pushed, and the consumer drains via Poll before completion is signalled.
// If fusion is not negotiated it degrades to plain push delivery.
func AsyncFused[T any](values ...T) Publisher[T] {
	return publisherFunc[T](func(s Subscriber[T]) {
		sub := &asyncFusedSubscription[T]{values: values, actual: s}
		s.OnSubscribe(sub)
	})
}

type asyncFusedSubscription[T any] struct {
	mu        sync.Mutex
	values    []T
	actual    Subscriber[T]
	index     int
	fusion    FusionMode
	started   bool
	cancelled bool
}

func (s *asyncFusedSubscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	if s.cancelled || s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	fused := s.fusion == FusionAsync
	values := s.values
	s.mu.Unlock()

	if fused {
		var zero T
		s.actual.OnNext(zero) // data-available notification
		s.actual.OnComplete()
		return
	}
	for _, v := range values {
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return
		}
		s.index++
		s.mu.Unlock()
		s.actual.OnNext(v)
	}
	s.actual.OnComplete()
}

func (s *asyncFusedSubscription[T]) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

func (s *asyncFusedSubscription[T]) Negotiate(requested FusionMode) FusionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requested&FusionAsync != 0 {
		s.fusion = FusionAsync
		return FusionAsync
	}
	return FusionNone
}

func (s *asyncFusedSubscription[T]) Poll() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if s.cancelled || s.index >= len(s.values) {
		return zero, false
	}
	v := s.values[s.index]
	s.index++
	return v, true
}

func (s *asyncFusedSubscription[T]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values) - s.index
}

func (s *asyncFusedSubscription[T]) Clear() {
	s.mu.Lock()
	s.index = len(s.values)
	s.mu.Unlock()
}

// Emission is one event of a Scheduled publisher's plan.
type Emission[T any] struct {
	// After is the delay relative to the previous emission (the first is
	// relative to subscription).
	After time.Duration

	Value    T
	Err      error // non-nil: terminal error
	Complete bool  // terminal completion
}

// EmitAfter builds a value emission.
func EmitAfter[T any](d time.Duration, v T) Emission[T] {
	return Emission[T]{After: d, Value: v}
}

// CompleteAfter builds a terminal completion emission.
func CompleteAfter[T any](d time.Duration) Emission[T] {
	return Emission[T]{After: d, Complete: true}
}

// FailAfter builds a terminal error emission.
func FailAfter[T any](d time.Duration, err error) Emission[T] {
	return Emission[T]{After: d, Err: err}
}

// Scheduled returns a publisher that plays an emission plan on the given
// scheduler. Under a virtual scheduler the plan fires deterministically as
// logical time is advanced; under a real one it fires on wall-clock timers.
// Demand is not tracked: the plan is authoritative.
func Scheduled[T any](sched Scheduler, plan ...Emission[T]) Publisher[T] {
	return publisherFunc[T](func(s Subscriber[T]) {
		sub := &scheduledSubscription[T]{}
		s.OnSubscribe(sub)

		at := time.Duration(0)
		for _, e := range plan {
			at += e.After
			e := e
			cancel := sched.Schedule(at, func() {
				if sub.isCancelled() {
					return
				}
				switch {
				case e.Err != nil:
					s.OnError(e.Err)
				case e.Complete:
					s.OnComplete()
				default:
					s.OnNext(e.Value)
				}
			})
			sub.addCancel(cancel)
		}
	})
}

type scheduledSubscription[T any] struct {
	mu        sync.Mutex
	cancels   []func()
	cancelled bool
}

func (s *scheduledSubscription[T]) Request(int64) {}

func (s *scheduledSubscription[T]) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (s *scheduledSubscription[T]) addCancel(c func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		c()
		return
	}
	s.cancels = append(s.cancels, c)
}

func (s *scheduledSubscription[T]) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
