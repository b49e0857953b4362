package probe

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/charmbracelet/log"

	"github.com/probelab/verve/pkg/flow"
	"github.com/probelab/verve/pkg/trace"
	"github.com/probelab/verve/pkg/vclock"
)

// Verify subscribes to a fresh source instance and drives the whole script,
// blocking until the terminal step is satisfied or a failure aborts the run.
// It returns the elapsed real time; on failure the error is a single
// *VerdictError aggregating the captured failures.
func (v *Verifier[T]) Verify() (time.Duration, error) {
	return v.run(0)
}

// VerifyTimeout is Verify bounded by an overall real-time duration.
// Exceeding it aborts the run with a TimeoutError inside the verdict.
func (v *Verifier[T]) VerifyTimeout(timeout time.Duration) (time.Duration, error) {
	return v.run(timeout)
}

// run owns the state of one verification: it is created fresh per Verify
// call and never shared, so concurrent Verify calls on one Verifier are
// independent runs against independently obtained sources.
type run[T any] struct {
	steps  []*step[T]
	cursor int

	clock   vclock.Clock
	virtual *vclock.Virtual
	in      *inbox[T]

	sub    flow.Subscription
	qs     flow.QueueSubscription[T]
	fusion flow.FusionMode
	demand demandController

	recording     []T
	recordingOpen bool

	failures []error
	signals  int

	start       time.Time
	deadline    time.Time
	hasDeadline bool
	timeout     time.Duration

	initialDemand int64
	cancelled     bool

	logger *log.Logger
	tracer *trace.Writer
}

func (v *Verifier[T]) run(timeout time.Duration) (time.Duration, error) {
	r := &run[T]{
		steps:         v.script.steps,
		in:            newInbox[T](),
		initialDemand: v.opts.initialDemand,
		logger:        v.opts.logger,
		tracer:        v.opts.tracer,
		start:         time.Now(),
		timeout:       timeout,
	}
	if timeout > 0 {
		r.deadline = r.start.Add(timeout)
		r.hasDeadline = true
	}
	if v.opts.clockFactory != nil {
		r.virtual = v.opts.clockFactory()
		r.clock = r.virtual
	} else {
		r.clock = vclock.NewReal()
	}

	r.tracer.Emit(trace.EventRunStart, map[string]any{
		"steps":   len(r.steps),
		"virtual": r.virtual != nil,
	})

	source := v.source(r.virtual)
	source.Subscribe(&observer[T]{in: r.in})

	err := r.drive()
	elapsed := time.Since(r.start)

	if err != nil {
		r.cancel()
		r.failures = append(r.failures, err)
		r.tracer.EmitRunComplete("failed", elapsed, r.signals)
		return elapsed, &VerdictError{Failures: r.failures, Elapsed: elapsed, Signals: r.signals}
	}
	r.tracer.EmitRunComplete("passed", elapsed, r.signals)
	return elapsed, nil
}

// drive advances the cursor through the script, executing side-action steps
// synchronously and rendezvousing with the inbound signal queue for
// expectation steps. The first failure aborts the run.
func (r *run[T]) drive() error {
	for r.cursor < len(r.steps) {
		idx := r.cursor
		st := r.steps[idx]
		if r.logger != nil {
			r.logger.Debug("step", "index", idx, "step", st.desc)
		}

		switch st.kind {
		case stepSubscription:
			if err := r.matchSubscription(st, idx); err != nil {
				return err
			}
			continue // matchSubscription advances past fusion steps itself

		case stepTask:
			st.task()
			r.matched(st, idx)

		case stepAwait:
			r.clock.AdvanceBy(st.duration)
			r.tracer.Emit(trace.EventAwaited, map[string]any{"duration": st.duration.String()})
			r.matched(st, idx)

		case stepRequest:
			r.demand.request(st.count)
			r.tracer.Emit(trace.EventRequested, map[string]any{"n": st.count})
			r.matched(st, idx)

		case stepRecordStart:
			// An unclosed previous session is silently discarded.
			r.recording = st.recordFactory()
			r.recordingOpen = true
			r.matched(st, idx)

		case stepRecordEnd:
			recorded := r.recording
			r.recording = nil
			r.recordingOpen = false
			if st.recordPredicate != nil && !st.recordPredicate(recorded) {
				return r.failed(st, idx, &SignalMismatchError{
					StepIndex: idx,
					Step:      st.desc,
					Expected:  "recorded collection matching predicate",
					Got:       fmt.Sprintf("%d recorded item(s): %v", len(recorded), recorded),
				})
			}
			if st.recordConsumer != nil {
				if err := st.recordConsumer(recorded); err != nil {
					return r.failed(st, idx, &ConsumerAssertionError{StepIndex: idx, Step: st.desc, Err: err})
				}
			}
			r.matched(st, idx)

		case stepNext, stepNextMatch, stepNextConsume:
			v, err := r.nextItem(st, idx)
			if err != nil {
				return r.failed(st, idx, err)
			}
			if err := r.matchItem(st, idx, v); err != nil {
				return r.failed(st, idx, err)
			}
			r.matched(st, idx)

		case stepNextCount:
			for i := int64(0); i < st.count; i++ {
				if _, err := r.nextItem(st, idx); err != nil {
					return r.failed(st, idx, err)
				}
			}
			r.matched(st, idx)

		case stepNextSequence:
			for _, want := range st.values {
				got, err := r.nextItem(st, idx)
				if err != nil {
					return r.failed(st, idx, err)
				}
				if !reflect.DeepEqual(got, want) {
					return r.failed(st, idx, &SignalMismatchError{
						StepIndex: idx,
						Step:      st.desc,
						Expected:  fmt.Sprintf("item(%v)", want),
						Got:       fmt.Sprintf("item(%v)", got),
					})
				}
			}
			r.matched(st, idx)

		case stepComplete, stepError:
			if err := r.matchTerminal(st, idx); err != nil {
				return r.failed(st, idx, err)
			}
			r.matched(st, idx)

		case stepCancel:
			r.cancel()
			r.matched(st, idx)

		default:
			return &InvalidScriptError{Reason: fmt.Sprintf("step[%d] %s is not executable here", idx, st.desc)}
		}
	}
	return nil
}

// matchSubscription rendezvouses with the start signal, then performs the
// fusion negotiation (when scripted) before issuing the initial demand —
// sync pull mode never requests.
func (r *run[T]) matchSubscription(st *step[T], idx int) error {
	sig, ok := r.in.take(r.deadline, r.hasDeadline)
	if !ok {
		return r.failed(st, idx, r.timedOut(st, idx))
	}
	r.observe(sig)
	if sig.kind != signalSubscribe {
		return r.failed(st, idx, &SignalMismatchError{
			StepIndex: idx,
			Step:      st.desc,
			Expected:  "subscription",
			Got:       sig.describe(),
		})
	}
	r.sub = sig.sub
	r.demand.attach(sig.sub)
	r.tracer.Emit(trace.EventSubscribed, nil)

	if st.subPredicate != nil && !st.subPredicate(sig.sub) {
		return r.failed(st, idx, &SignalMismatchError{
			StepIndex: idx,
			Step:      st.desc,
			Expected:  "subscription matching predicate",
			Got:       "subscription",
		})
	}
	if st.subConsumer != nil {
		if err := st.subConsumer(sig.sub); err != nil {
			return r.failed(st, idx, &ConsumerAssertionError{StepIndex: idx, Step: st.desc, Err: err})
		}
	}
	r.matched(st, idx)

	if r.cursor < len(r.steps) {
		switch next := r.steps[r.cursor]; next.kind {
		case stepFusion:
			qs, mode, err := negotiateFusion[T](r.sub, next, r.cursor)
			if err != nil {
				return r.failed(next, r.cursor, err)
			}
			// A refused negotiation leaves delivery on the push path;
			// holding the queue handle would have nextSignal poll items
			// out from under it.
			if mode != flow.FusionNone {
				r.qs = qs
			}
			r.fusion = mode
			r.tracer.Emit(trace.EventFusionNegotiated, map[string]any{"mode": mode.String()})
			r.matched(next, r.cursor)
			if mode != flow.FusionSync {
				r.requestInitial()
			}
			return nil
		case stepNoFusion:
			if err := verifyNoFusion[T](r.sub, r.cursor); err != nil {
				return r.failed(next, r.cursor, err)
			}
			r.matched(next, r.cursor)
		}
	}
	r.requestInitial()
	return nil
}

func (r *run[T]) requestInitial() {
	if r.initialDemand > 0 {
		r.demand.request(r.initialDemand)
		r.tracer.Emit(trace.EventRequested, map[string]any{"n": r.initialDemand, "initial": true})
	}
}

// nextItem draws one item signal, honoring the negotiated fusion mode:
// sync polls eagerly (exhaustion means completion), async polls after each
// data-available notification, push waits on the inbox.
func (r *run[T]) nextItem(st *step[T], idx int) (T, error) {
	var zero T
	sig, ok := r.nextSignal()
	if !ok {
		return zero, r.timedOut(st, idx)
	}
	switch sig.kind {
	case signalNext:
		r.demand.consume()
		if r.recordingOpen {
			r.recording = append(r.recording, sig.value)
		}
		return sig.value, nil
	case signalComplete, signalError:
		return zero, &UnexpectedTerminationError{StepIndex: idx, Step: st.desc, Signal: sig.describe()}
	default:
		return zero, &SignalMismatchError{StepIndex: idx, Step: st.desc, Expected: "item", Got: sig.describe()}
	}
}

func (r *run[T]) matchItem(st *step[T], idx int, v T) error {
	switch st.kind {
	case stepNext:
		if !reflect.DeepEqual(v, st.value) {
			return &SignalMismatchError{
				StepIndex: idx,
				Step:      st.desc,
				Expected:  fmt.Sprintf("item(%v)", st.value),
				Got:       fmt.Sprintf("item(%v)", v),
			}
		}
	case stepNextMatch:
		if !st.predicate(v) {
			return &SignalMismatchError{
				StepIndex: idx,
				Step:      st.desc,
				Expected:  "item matching predicate",
				Got:       fmt.Sprintf("item(%v)", v),
			}
		}
	case stepNextConsume:
		if err := st.consumer(v); err != nil {
			return &ConsumerAssertionError{StepIndex: idx, Step: st.desc, Err: err}
		}
	}
	return nil
}

func (r *run[T]) matchTerminal(st *step[T], idx int) error {
	sig, ok := r.nextSignal()
	if !ok {
		return r.timedOut(st, idx)
	}
	want := "complete"
	if st.kind == stepError {
		want = "error"
	}
	switch sig.kind {
	case signalNext:
		// An item while the cursor expects termination is a mismatch,
		// never a silently ignored extra.
		return &SignalMismatchError{StepIndex: idx, Step: st.desc, Expected: want, Got: sig.describe()}
	case signalSubscribe:
		return &SignalMismatchError{StepIndex: idx, Step: st.desc, Expected: want, Got: sig.describe()}
	}

	if st.kind == stepComplete {
		if sig.kind != signalComplete {
			return &SignalMismatchError{StepIndex: idx, Step: st.desc, Expected: want, Got: sig.describe()}
		}
		return nil
	}

	if sig.kind != signalError {
		return &SignalMismatchError{StepIndex: idx, Step: st.desc, Expected: want, Got: sig.describe()}
	}
	err := sig.err
	if st.errIs != nil && !errors.Is(err, st.errIs) {
		return &SignalMismatchError{
			StepIndex: idx,
			Step:      st.desc,
			Expected:  fmt.Sprintf("error matching %v", st.errIs),
			Got:       sig.describe(),
		}
	}
	if st.errMessage != "" && err.Error() != st.errMessage {
		return &SignalMismatchError{
			StepIndex: idx,
			Step:      st.desc,
			Expected:  fmt.Sprintf("error with message %q", st.errMessage),
			Got:       sig.describe(),
		}
	}
	if st.errPredicate != nil && !st.errPredicate(err) {
		return &SignalMismatchError{
			StepIndex: idx,
			Step:      st.desc,
			Expected:  "error matching predicate",
			Got:       sig.describe(),
		}
	}
	if st.errConsumer != nil {
		if cerr := st.errConsumer(err); cerr != nil {
			return &ConsumerAssertionError{StepIndex: idx, Step: st.desc, Err: cerr}
		}
	}
	return nil
}

// nextSignal resolves the next signal according to the negotiated delivery
// mode, waiting on the inbox subject to the overall deadline.
func (r *run[T]) nextSignal() (signal[T], bool) {
	if r.qs != nil {
		if v, ok := r.qs.Poll(); ok {
			sig := signal[T]{kind: signalNext, value: v}
			r.observe(sig)
			return sig, true
		}
		if r.fusion == flow.FusionSync {
			// Sync pull exhaustion is completion.
			sig := signal[T]{kind: signalComplete}
			r.observe(sig)
			return sig, true
		}
	}
	for {
		sig, ok := r.in.take(r.deadline, r.hasDeadline)
		if !ok {
			return sig, false
		}
		if r.fusion == flow.FusionAsync && sig.kind == signalNext {
			v, polled := r.qs.Poll()
			if !polled {
				continue // notification for an already-drained buffer
			}
			item := signal[T]{kind: signalNext, value: v}
			r.observe(item)
			return item, true
		}
		r.observe(sig)
		return sig, true
	}
}

func (r *run[T]) observe(sig signal[T]) {
	r.signals++
	if r.logger != nil {
		r.logger.Debug("signal", "kind", sig.kind.String(), "signal", sig.describe())
	}
	value := ""
	if sig.kind == signalNext {
		value = fmt.Sprintf("%v", sig.value)
	}
	if sig.kind == signalError {
		value = sig.err.Error()
	}
	r.tracer.EmitSignal(sig.kind.String(), value)
}

func (r *run[T]) matched(st *step[T], idx int) {
	if r.logger != nil {
		r.logger.Debug("matched", "index", idx, "step", st.desc)
	}
	r.tracer.EmitStepMatched(idx, st.desc)
	r.cursor = idx + 1
}

func (r *run[T]) failed(st *step[T], idx int, err error) error {
	if r.logger != nil {
		r.logger.Debug("failed", "index", idx, "step", st.desc, "err", err)
	}
	r.tracer.EmitStepFailed(idx, st.desc, err.Error())
	return err
}

func (r *run[T]) timedOut(st *step[T], idx int) error {
	return &TimeoutError{Limit: r.timeout, StepIndex: idx, Step: st.desc}
}

// cancel releases the subscription. It is idempotent and is the only
// mechanism for releasing subscription-side resources.
func (r *run[T]) cancel() {
	if r.cancelled {
		return
	}
	r.cancelled = true
	if r.sub != nil {
		r.sub.Cancel()
		r.tracer.Emit(trace.EventCancelled, nil)
	}
}
