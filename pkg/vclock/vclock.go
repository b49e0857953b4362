// Package vclock provides the two clock adapters a verification run can be
// driven by: Real, which waits in wall-clock time, and Virtual, a logical
// scheduler that advances instantly and fires due callbacks synchronously so
// delay-based sources never require real waiting.
package vclock

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the adapter contract the engine resolves Wait steps through.
type Clock interface {
	Now() time.Time

	// AdvanceBy moves time forward by d. The real adapter blocks the
	// calling goroutine; the virtual adapter fires due tasks and returns
	// without sleeping.
	AdvanceBy(d time.Duration)

	// ScheduledCount reports pending scheduled tasks, for diagnostics.
	ScheduledCount() int
}

// Factory supplies a fresh Virtual scheduler per verification run. A nil
// Factory selects real time.
type Factory func() *Virtual

// Real is the wall-clock adapter.
type Real struct {
	pending atomic.Int64
}

// NewReal returns a wall-clock adapter.
func NewReal() *Real { return &Real{} }

func (r *Real) Now() time.Time { return time.Now() }

func (r *Real) AdvanceBy(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func (r *Real) ScheduledCount() int { return int(r.pending.Load()) }

// Schedule runs fn after d of wall-clock time on a timer goroutine.
func (r *Real) Schedule(d time.Duration, fn func()) (cancel func()) {
	r.pending.Add(1)
	var done atomic.Bool
	t := time.AfterFunc(d, func() {
		if done.CompareAndSwap(false, true) {
			r.pending.Add(-1)
		}
		fn()
	})
	return func() {
		if t.Stop() && done.CompareAndSwap(false, true) {
			r.pending.Add(-1)
		}
	}
}

// Virtual is a logical clock with a deadline-ordered task queue. AdvanceBy
// runs every task whose deadline elapses, in deadline order, synchronously
// on the calling goroutine. Tasks must not call AdvanceBy themselves; they
// may schedule further tasks, including at already-elapsed deadlines.
type Virtual struct {
	mu    sync.Mutex
	now   time.Time
	seq   int64
	tasks taskQueue
}

// NewVirtual returns a virtual scheduler positioned at the Unix epoch.
func NewVirtual() *Virtual {
	return &Virtual{now: time.Unix(0, 0).UTC()}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Schedule enqueues fn to run when the logical clock reaches now+d.
// Non-positive delays fire synchronously before Schedule returns. The
// returned cancel removes the task if it has not fired yet.
func (v *Virtual) Schedule(d time.Duration, fn func()) (cancel func()) {
	if d <= 0 {
		fn()
		return func() {}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &task{deadline: v.now.Add(d), seq: v.seq, fn: fn}
	v.seq++
	heap.Push(&v.tasks, t)
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		t.removed = true
	}
}

// AdvanceBy moves logical time forward by d, firing due tasks in deadline
// order. Tasks run with the clock set to their own deadline.
func (v *Virtual) AdvanceBy(d time.Duration) {
	if d < 0 {
		d = 0
	}
	v.mu.Lock()
	target := v.now.Add(d)
	v.runUntil(target)
	v.now = target
	v.mu.Unlock()
}

// AdvanceToNext jumps to the earliest pending deadline and fires every task
// due at it. It returns the duration jumped, zero when nothing is pending.
func (v *Virtual) AdvanceToNext() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	next, ok := v.peek()
	if !ok {
		return 0
	}
	jumped := next.Sub(v.now)
	if jumped < 0 {
		jumped = 0
	}
	v.runUntil(next)
	if v.now.Before(next) {
		v.now = next
	}
	return jumped
}

// runUntil pops and runs tasks with deadline <= target. Caller holds v.mu;
// each task fn runs unlocked so it may schedule follow-ups.
func (v *Virtual) runUntil(target time.Time) {
	for {
		next, ok := v.peek()
		if !ok || next.After(target) {
			return
		}
		t := heap.Pop(&v.tasks).(*task)
		if t.removed {
			continue
		}
		if v.now.Before(t.deadline) {
			v.now = t.deadline
		}
		v.mu.Unlock()
		t.fn()
		v.mu.Lock()
	}
}

// peek returns the earliest live deadline. Caller holds v.mu.
func (v *Virtual) peek() (time.Time, bool) {
	for len(v.tasks) > 0 {
		if v.tasks[0].removed {
			heap.Pop(&v.tasks)
			continue
		}
		return v.tasks[0].deadline, true
	}
	return time.Time{}, false
}

func (v *Virtual) ScheduledCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, t := range v.tasks {
		if !t.removed {
			n++
		}
	}
	return n
}

type task struct {
	deadline time.Time
	seq      int64 // insertion order breaks deadline ties
	fn       func()
	removed  bool
	index    int
}

type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if !q[i].deadline.Equal(q[j].deadline) {
		return q[i].deadline.Before(q[j].deadline)
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
