package probe

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/probelab/verve/pkg/flow"
	"github.com/probelab/verve/pkg/trace"
	"github.com/probelab/verve/pkg/vclock"
)

// Option configures a verification before the script is built.
type Option func(*options)

type options struct {
	initialDemand int64
	clockFactory  vclock.Factory
	logger        *log.Logger
	tracer        *trace.Writer
}

// WithDemand sets the initial demand requested upon subscription. The
// default is unbounded. n must be positive.
func WithDemand(n int64) Option {
	if n <= 0 {
		panic(&InvalidScriptError{Reason: "initial demand must be positive"})
	}
	return func(o *options) { o.initialDemand = n }
}

// WithClockFactory overrides the virtual scheduler factory used per run.
func WithClockFactory(f vclock.Factory) Option {
	return func(o *options) { o.clockFactory = f }
}

// WithLogger enables debug logging of every signal and step transition.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTrace records the run's events to a JSONL trace.
func WithTrace(tw *trace.Writer) Option {
	return func(o *options) { o.tracer = tw }
}

// builder accumulates steps; the FirstStep/Step/Verifier wrappers narrow
// which methods are reachable at each construction phase.
type builder[T any] struct {
	steps  []*step[T]
	opts   options
	source func(*vclock.Virtual) flow.Publisher[T]
}

// Create prepares a verification of the publisher returned by factory, in
// real time. Each Verify call replays the whole script against a fresh
// publisher instance.
func Create[T any](factory func() flow.Publisher[T], opts ...Option) *FirstStep[T] {
	if factory == nil {
		panic(&InvalidScriptError{Reason: "source factory is nil"})
	}
	return newFirstStep(func(*vclock.Virtual) flow.Publisher[T] { return factory() }, nil, opts)
}

// CreateWithVirtualTime prepares a verification in a controlled environment:
// a fresh virtual scheduler is created per run and handed to factory, and
// ThenAwait steps advance logical time instead of sleeping.
func CreateWithVirtualTime[T any](factory func(*vclock.Virtual) flow.Publisher[T], opts ...Option) *FirstStep[T] {
	if factory == nil {
		panic(&InvalidScriptError{Reason: "source factory is nil"})
	}
	return newFirstStep(factory, vclock.NewVirtual, opts)
}

func newFirstStep[T any](source func(*vclock.Virtual) flow.Publisher[T], clock vclock.Factory, opts []Option) *FirstStep[T] {
	b := &builder[T]{
		opts:   options{initialDemand: flow.Unbounded, clockFactory: clock},
		source: source,
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	return &FirstStep[T]{Step[T]{b: b}}
}

// FirstStep is the construction phase before any item expectation: the
// subscription itself and fusion support may still be asserted.
type FirstStep[T any] struct {
	Step[T]
}

// Step is the main construction phase: item expectations, recording control
// and side actions. Terminal expectations finalize the script and return the
// Verifier.
type Step[T any] struct {
	b *builder[T]
}

func (b *builder[T]) append(st *step[T]) {
	b.steps = append(b.steps, st)
}

// --- FirstStep-only expectations ---

// ExpectSubscription expects the subscription signal; this is also the
// implicit first expectation when none is declared.
func (f *FirstStep[T]) ExpectSubscription() *Step[T] {
	f.b.append(&step[T]{kind: stepSubscription, desc: "expectSubscription"})
	return &f.Step
}

// ExpectSubscriptionWith expects a subscription satisfying the predicate.
func (f *FirstStep[T]) ExpectSubscriptionWith(predicate func(flow.Subscription) bool) *Step[T] {
	f.b.append(&step[T]{kind: stepSubscription, desc: "expectSubscriptionWith", subPredicate: predicate})
	return &f.Step
}

// ConsumeSubscriptionWith expects a subscription and hands it to consumer;
// a non-nil error is captured as a consumer assertion failure.
func (f *FirstStep[T]) ConsumeSubscriptionWith(consumer func(flow.Subscription) error) *Step[T] {
	f.b.append(&step[T]{kind: stepSubscription, desc: "consumeSubscriptionWith", subConsumer: consumer})
	return &f.Step
}

// ExpectFusion expects pull-mode support, requesting any mode.
func (f *FirstStep[T]) ExpectFusion() *Step[T] {
	return f.ExpectFusionModes(flow.FusionAny, flow.FusionAny)
}

// ExpectFusionMode expects pull-mode support with the given requested (and
// expected) mode.
func (f *FirstStep[T]) ExpectFusionMode(requested flow.FusionMode) *Step[T] {
	return f.ExpectFusionModes(requested, requested)
}

// ExpectFusionModes requests one fusion mode mask and expects another.
func (f *FirstStep[T]) ExpectFusionModes(requested, expected flow.FusionMode) *Step[T] {
	f.b.append(&step[T]{
		kind:      stepFusion,
		desc:      fmt.Sprintf("expectFusion(requested %s, expected %s)", requested, expected),
		requested: requested,
		expected:  expected,
	})
	return &f.Step
}

// ExpectNoFusion expects the subscription to not support pull-mode delivery.
func (f *FirstStep[T]) ExpectNoFusion() *Step[T] {
	f.b.append(&step[T]{kind: stepNoFusion, desc: "expectNoFusion"})
	return &f.Step
}

// --- Step expectations and actions ---

// ExpectNext expects the next items to equal the given values, in order.
// Values are compared with reflect.DeepEqual.
func (s *Step[T]) ExpectNext(values ...T) *Step[T] {
	for _, v := range values {
		s.b.append(&step[T]{kind: stepNext, desc: fmt.Sprintf("expectNext(%v)", v), value: v})
	}
	return s
}

// ExpectNextMatch expects an item satisfying the predicate.
func (s *Step[T]) ExpectNextMatch(predicate func(T) bool) *Step[T] {
	s.b.append(&step[T]{kind: stepNextMatch, desc: "expectNextMatch", predicate: predicate})
	return s
}

// ConsumeNextWith expects an item and hands it to consumer; a non-nil error
// is captured as a consumer assertion failure and aborts the run.
func (s *Step[T]) ConsumeNextWith(consumer func(T) error) *Step[T] {
	s.b.append(&step[T]{kind: stepNextConsume, desc: "consumeNextWith", consumer: consumer})
	return s
}

// ExpectNextCount expects exactly count items regardless of their values.
// Zero is satisfied immediately without consuming a signal.
func (s *Step[T]) ExpectNextCount(count int64) *Step[T] {
	s.b.append(&step[T]{kind: stepNextCount, desc: fmt.Sprintf("expectNextCount(%d)", count), count: count})
	return s
}

// ExpectNextSequence expects the next items to equal seq until it is
// exhausted.
func (s *Step[T]) ExpectNextSequence(seq []T) *Step[T] {
	s.b.append(&step[T]{kind: stepNextSequence, desc: fmt.Sprintf("expectNextSequence(%d values)", len(seq)), values: seq})
	return s
}

// RecordWith opens a recording session storing matched items in the
// collection produced by factory. An unclosed previous session is silently
// discarded.
func (s *Step[T]) RecordWith(factory func() []T) *Step[T] {
	s.b.append(&step[T]{kind: stepRecordStart, desc: "recordWith", recordFactory: factory})
	return s
}

// ExpectRecordedWith closes the active recording session and expects the
// recorded collection to satisfy the predicate.
func (s *Step[T]) ExpectRecordedWith(predicate func([]T) bool) *Step[T] {
	s.b.append(&step[T]{kind: stepRecordEnd, desc: "expectRecordedWith", recordPredicate: predicate})
	return s
}

// ConsumeRecordedWith closes the active recording session and hands the
// recorded collection to consumer.
func (s *Step[T]) ConsumeRecordedWith(consumer func([]T) error) *Step[T] {
	s.b.append(&step[T]{kind: stepRecordEnd, desc: "consumeRecordedWith", recordConsumer: consumer})
	return s
}

// Then runs an arbitrary task ordered after the previous expectations.
func (s *Step[T]) Then(task func()) *Step[T] {
	s.b.append(&step[T]{kind: stepTask, desc: "then", task: task})
	return s
}

// ThenAwait pauses expectation evaluation for d. Under a virtual scheduler
// the pause advances logical time without blocking; zero is a yield point.
func (s *Step[T]) ThenAwait(d time.Duration) *Step[T] {
	s.b.append(&step[T]{kind: stepAwait, desc: fmt.Sprintf("thenAwait(%s)", d), duration: d})
	return s
}

// ThenRequest requests n more items from the subscription, in addition to
// the initial demand.
func (s *Step[T]) ThenRequest(n int64) *Step[T] {
	if n <= 0 {
		panic(&InvalidScriptError{Reason: "thenRequest amount must be positive"})
	}
	s.b.append(&step[T]{kind: stepRequest, desc: fmt.Sprintf("thenRequest(%d)", n), count: n})
	return s
}

// --- terminal expectations ---

// ExpectComplete expects the completion signal and finalizes the script.
func (s *Step[T]) ExpectComplete() *Verifier[T] {
	return s.finalize(&step[T]{kind: stepComplete, desc: "expectComplete"})
}

// ExpectError expects any terminal error and finalizes the script.
func (s *Step[T]) ExpectError() *Verifier[T] {
	return s.finalize(&step[T]{kind: stepError, desc: "expectError"})
}

// ExpectErrorIs expects a terminal error matching target per errors.Is.
func (s *Step[T]) ExpectErrorIs(target error) *Verifier[T] {
	return s.finalize(&step[T]{kind: stepError, desc: fmt.Sprintf("expectErrorIs(%v)", target), errIs: target})
}

// ExpectErrorMessage expects a terminal error with the exact message.
func (s *Step[T]) ExpectErrorMessage(message string) *Verifier[T] {
	return s.finalize(&step[T]{kind: stepError, desc: fmt.Sprintf("expectErrorMessage(%q)", message), errMessage: message})
}

// ExpectErrorWith expects a terminal error satisfying the predicate.
func (s *Step[T]) ExpectErrorWith(predicate func(error) bool) *Verifier[T] {
	return s.finalize(&step[T]{kind: stepError, desc: "expectErrorWith", errPredicate: predicate})
}

// ConsumeErrorWith expects a terminal error and hands it to consumer.
func (s *Step[T]) ConsumeErrorWith(consumer func(error) error) *Verifier[T] {
	return s.finalize(&step[T]{kind: stepError, desc: "consumeErrorWith", errConsumer: consumer})
}

// ThenCancel cancels the subscription and finalizes the script; prior
// expectations must all have matched for the run to succeed.
func (s *Step[T]) ThenCancel() *Verifier[T] {
	return s.finalize(&step[T]{kind: stepCancel, desc: "thenCancel"})
}

func (s *Step[T]) finalize(terminal *step[T]) *Verifier[T] {
	steps := s.b.steps
	if len(steps) == 0 || steps[0].kind != stepSubscription {
		implicit := &step[T]{kind: stepSubscription, desc: "expectSubscription (implicit)"}
		steps = append([]*step[T]{implicit}, steps...)
	}
	steps = append(steps, terminal)
	sc := &script[T]{steps: steps}
	if err := sc.validate(); err != nil {
		panic(err)
	}
	return &Verifier[T]{
		script: sc,
		opts:   s.b.opts,
		source: s.b.source,
	}
}

// Verifier is the finalized, replayable verification. It is immutable;
// every Verify call starts a fully independent run.
type Verifier[T any] struct {
	script *script[T]
	opts   options
	source func(*vclock.Virtual) flow.Publisher[T]
}
