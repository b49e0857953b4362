// Package flow defines the push-based stream protocol the verification
// engine consumes: publishers, subscribers, subscriptions, and the optional
// queue-fusion capability that lets a consumer pull buffered values instead
// of receiving push callbacks.
package flow

import "math"

// Unbounded is the request amount that disables backpressure accounting.
const Unbounded = int64(math.MaxInt64)

// Subscription is the handle a Publisher hands to its Subscriber. Request
// and Cancel may be called from any goroutine. Cancel is idempotent.
type Subscription interface {
	// Request signals demand for n more items. n must be positive;
	// Unbounded disables demand tracking.
	Request(n int64)

	// Cancel stops the flow of signals. After Cancel returns no further
	// signals are delivered.
	Cancel()
}

// Subscriber receives the signals of one subscription: exactly one
// OnSubscribe first, then zero or more OnNext, then at most one of
// OnComplete or OnError.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(v T)
	OnComplete()
	OnError(err error)
}

// Publisher is a source of items that delivers signals to a Subscriber,
// possibly from its own goroutine(s), possibly synchronously from within
// Subscribe.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}

// FusionMode is a bit mask describing how fused (pull-mode) delivery works.
type FusionMode int

const (
	// FusionNone means push delivery; no fusion was negotiated.
	FusionNone FusionMode = 0
	// FusionSync means the consumer pulls items synchronously via Poll;
	// Poll returning no value means the source is exhausted (completed).
	FusionSync FusionMode = 1
	// FusionAsync means items are buffered by the source; OnNext calls are
	// data-available notifications (their payload is meaningless) and the
	// consumer drains via Poll.
	FusionAsync FusionMode = 2
	// FusionAny requests either mode, letting the source choose.
	FusionAny = FusionSync | FusionAsync
)

// String renders the mask for diagnostics.
func (m FusionMode) String() string {
	switch m {
	case FusionNone:
		return "none"
	case FusionSync:
		return "sync"
	case FusionAsync:
		return "async"
	case FusionAny:
		return "any"
	default:
		return "invalid"
	}
}

// ParseFusionMode maps a scenario-file mode name to its mask.
func ParseFusionMode(s string) (FusionMode, bool) {
	switch s {
	case "", "none":
		return FusionNone, true
	case "sync":
		return FusionSync, true
	case "async":
		return FusionAsync, true
	case "any":
		return FusionAny, true
	default:
		return FusionNone, false
	}
}

// QueueSubscription is the optional pull-mode capability a Subscription may
// support. Discovery is an explicit capability query (AsQueueSubscription),
// never a subtype relationship.
type QueueSubscription[T any] interface {
	Subscription

	// Negotiate attempts to switch delivery to one of the requested modes
	// and returns the mode actually established (FusionNone if none of the
	// requested modes is supported). Must be called at most once, before
	// any items are consumed.
	Negotiate(requested FusionMode) FusionMode

	// Poll pulls the next buffered item. ok is false when the buffer is
	// empty; in sync mode that also means the source is exhausted.
	Poll() (v T, ok bool)

	// Size reports the number of buffered items.
	Size() int

	// Clear discards all buffered items.
	Clear()
}

// AsQueueSubscription reports whether s supports pull-mode delivery.
func AsQueueSubscription[T any](s Subscription) (QueueSubscription[T], bool) {
	qs, ok := s.(QueueSubscription[T])
	return qs, ok
}
