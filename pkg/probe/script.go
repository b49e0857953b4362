package probe

import (
	"time"

	"github.com/probelab/verve/pkg/flow"
)

// stepKind tags the variant of a script step.
type stepKind int

const (
	stepSubscription stepKind = iota
	stepFusion
	stepNoFusion
	stepNext
	stepNextMatch
	stepNextConsume
	stepNextCount
	stepNextSequence
	stepRecordStart
	stepRecordEnd
	stepTask
	stepAwait
	stepRequest
	stepComplete
	stepError
	stepCancel
)

// step is one unit of a script: an expectation on the next signal(s) or a
// side action. Only the fields relevant to its kind are set.
type step[T any] struct {
	kind stepKind
	desc string

	// item expectations
	value     T
	values    []T // nextSequence
	predicate func(T) bool
	consumer  func(T) error
	count     int64 // nextCount, request

	// subscription expectations
	subPredicate func(flow.Subscription) bool
	subConsumer  func(flow.Subscription) error

	// recording
	recordFactory   func() []T
	recordPredicate func([]T) bool
	recordConsumer  func([]T) error

	// side actions
	task     func()
	duration time.Duration

	// fusion
	requested flow.FusionMode
	expected  flow.FusionMode

	// terminal error expectations
	errIs        error
	errMessage   string
	errPredicate func(error) bool
	errConsumer  func(error) error
}

// terminal reports whether the step ends the script.
func (s *step[T]) terminal() bool {
	return s.kind == stepComplete || s.kind == stepError || s.kind == stepCancel
}

// itemStep reports whether the step consumes item signals.
func (s *step[T]) itemStep() bool {
	switch s.kind {
	case stepNext, stepNextMatch, stepNextConsume, stepNextCount, stepNextSequence:
		return true
	}
	return false
}

// script is the immutable ordered plan a verification run must satisfy.
type script[T any] struct {
	steps []*step[T]
}

// validate enforces the script shape invariants. The builder's type-state
// surface makes most violations unrepresentable; this is the backstop for
// scripts assembled programmatically (e.g. by the scenario compiler).
func (sc *script[T]) validate() *InvalidScriptError {
	if len(sc.steps) == 0 {
		return &InvalidScriptError{Reason: "script is empty"}
	}
	last := sc.steps[len(sc.steps)-1]
	if !last.terminal() {
		return &InvalidScriptError{Reason: "script does not end with a terminal step"}
	}
	recording := false
	for i, st := range sc.steps {
		if st.terminal() && i != len(sc.steps)-1 {
			return &InvalidScriptError{Reason: "terminal step " + st.desc + " is not last"}
		}
		switch st.kind {
		case stepSubscription:
			if i != 0 {
				return &InvalidScriptError{Reason: st.desc + " must be the first step"}
			}
		case stepFusion, stepNoFusion:
			if i > 1 || (i == 1 && sc.steps[0].kind != stepSubscription) {
				return &InvalidScriptError{Reason: st.desc + " must directly follow the subscription"}
			}
		case stepRecordStart:
			recording = true
		case stepRecordEnd:
			if !recording {
				return &InvalidScriptError{Reason: st.desc + " has no open recording session"}
			}
			recording = false
		case stepRequest:
			if st.count <= 0 {
				return &InvalidScriptError{Reason: "thenRequest amount must be positive"}
			}
		case stepNextCount:
			if st.count < 0 {
				return &InvalidScriptError{Reason: "expectNextCount must be non-negative"}
			}
		case stepAwait:
			if st.duration < 0 {
				return &InvalidScriptError{Reason: "thenAwait duration must be non-negative"}
			}
		}
	}
	return nil
}
