package flow_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/probelab/verve/pkg/flow"
)

// collector is a subscriber that records every callback.
type collector[T any] struct {
	mu        sync.Mutex
	sub       flow.Subscription
	items     []T
	completed bool
	err       error
}

func (c *collector[T]) OnSubscribe(s flow.Subscription) {
	c.mu.Lock()
	c.sub = s
	c.mu.Unlock()
}

func (c *collector[T]) OnNext(v T) {
	c.mu.Lock()
	c.items = append(c.items, v)
	c.mu.Unlock()
}

func (c *collector[T]) OnComplete() {
	c.mu.Lock()
	c.completed = true
	c.mu.Unlock()
}

func (c *collector[T]) OnError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func TestParseFusionMode(t *testing.T) {
	tests := []struct {
		in     string
		want   flow.FusionMode
		wantOK bool
	}{
		{"", flow.FusionNone, true},
		{"none", flow.FusionNone, true},
		{"sync", flow.FusionSync, true},
		{"async", flow.FusionAsync, true},
		{"any", flow.FusionAny, true},
		{"bogus", flow.FusionNone, false},
	}
	for _, tt := range tests {
		got, ok := flow.ParseFusionMode(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseFusionMode(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFusionModeString(t *testing.T) {
	tests := []struct {
		mode flow.FusionMode
		want string
	}{
		{flow.FusionNone, "none"},
		{flow.FusionSync, "sync"},
		{flow.FusionAsync, "async"},
		{flow.FusionAny, "any"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("FusionMode(%d).String() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestSliceHonorsDemand(t *testing.T) {
	c := &collector[int]{}
	flow.Slice(1, 2, 3).Subscribe(c)

	if len(c.items) != 0 {
		t.Fatalf("items before request = %v, want none", c.items)
	}
	c.sub.Request(2)
	if len(c.items) != 2 {
		t.Fatalf("items after Request(2) = %v, want 2", c.items)
	}
	if c.completed {
		t.Fatal("completed before demand was satisfied")
	}
	c.sub.Request(1)
	if len(c.items) != 3 || !c.completed {
		t.Fatalf("items = %v completed = %v, want all 3 and completion", c.items, c.completed)
	}
}

func TestSliceCancelStopsEmission(t *testing.T) {
	c := &collector[int]{}
	flow.Slice(1, 2, 3).Subscribe(c)
	c.sub.Request(1)
	c.sub.Cancel()
	c.sub.Request(10)
	if len(c.items) != 1 || c.completed {
		t.Fatalf("after cancel: items = %v completed = %v", c.items, c.completed)
	}
}

func TestSliceSyncFusion(t *testing.T) {
	c := &collector[string]{}
	flow.Slice("a", "b").Subscribe(c)

	qs, ok := flow.AsQueueSubscription[string](c.sub)
	if !ok {
		t.Fatal("slice subscription does not expose the queue capability")
	}
	if mode := qs.Negotiate(flow.FusionAny); mode != flow.FusionSync {
		t.Fatalf("Negotiate(any) = %v, want sync", mode)
	}

	// Once fused, push delivery is off even if demand arrives.
	c.sub.Request(10)
	if len(c.items) != 0 {
		t.Fatalf("push items after fusion = %v, want none", c.items)
	}

	if n := qs.Size(); n != 2 {
		t.Errorf("Size() = %d, want 2", n)
	}
	v, ok := qs.Poll()
	if !ok || v != "a" {
		t.Fatalf("Poll() = (%q, %v), want (a, true)", v, ok)
	}
	qs.Clear()
	if _, ok := qs.Poll(); ok {
		t.Fatal("Poll() after Clear() returned a value")
	}
}

func TestFail(t *testing.T) {
	boom := errors.New("boom")
	c := &collector[int]{}
	flow.Fail[int](boom).Subscribe(c)
	if !errors.Is(c.err, boom) {
		t.Fatalf("err = %v, want %v", c.err, boom)
	}
	if c.sub == nil {
		t.Fatal("no subscription delivered before the error")
	}
}

func TestNever(t *testing.T) {
	c := &collector[int]{}
	flow.Never[int]().Subscribe(c)
	if c.sub == nil || len(c.items) != 0 || c.completed || c.err != nil {
		t.Fatalf("Never emitted something: %+v", c)
	}
}

func TestAsyncFusedNegotiation(t *testing.T) {
	c := &collector[int]{}
	flow.AsyncFused(1, 2).Subscribe(c)

	qs, ok := flow.AsQueueSubscription[int](c.sub)
	if !ok {
		t.Fatal("async fused subscription does not expose the queue capability")
	}
	if mode := qs.Negotiate(flow.FusionAsync); mode != flow.FusionAsync {
		t.Fatalf("Negotiate(async) = %v, want async", mode)
	}

	// The request triggers one data-available notification plus completion;
	// actual values are drained via Poll.
	c.sub.Request(1)
	if len(c.items) != 1 || !c.completed {
		t.Fatalf("notifications = %d completed = %v, want 1 and true", len(c.items), c.completed)
	}
	for want := 1; want <= 2; want++ {
		v, ok := qs.Poll()
		if !ok || v != want {
			t.Fatalf("Poll() = (%d, %v), want (%d, true)", v, ok, want)
		}
	}
}

func TestAsyncFusedDegradesToPush(t *testing.T) {
	c := &collector[int]{}
	flow.AsyncFused(1, 2).Subscribe(c)
	c.sub.Request(flow.Unbounded)
	if len(c.items) != 2 || !c.completed {
		t.Fatalf("push items = %v completed = %v", c.items, c.completed)
	}
}
