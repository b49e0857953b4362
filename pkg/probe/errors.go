package probe

import (
	"fmt"
	"strings"
	"time"

	"github.com/probelab/verve/pkg/flow"
)

// InvalidScriptError reports a malformed script. It is raised at build time
// (the builder panics with it), never during a run.
type InvalidScriptError struct {
	Reason string
}

func (e *InvalidScriptError) Error() string {
	return "invalid script: " + e.Reason
}

// SignalMismatchError reports an observed signal that did not satisfy the
// expected step.
type SignalMismatchError struct {
	StepIndex int
	Step      string
	Expected  string
	Got       string
}

func (e *SignalMismatchError) Error() string {
	return fmt.Sprintf("step[%d] %s: expected %s, got %s", e.StepIndex, e.Step, e.Expected, e.Got)
}

// ConsumerAssertionError reports a failure raised by a user-supplied
// consumer while inspecting a value, subscription, error, or recorded
// collection.
type ConsumerAssertionError struct {
	StepIndex int
	Step      string
	Err       error
}

func (e *ConsumerAssertionError) Error() string {
	return fmt.Sprintf("step[%d] %s: consumer assertion: %v", e.StepIndex, e.Step, e.Err)
}

func (e *ConsumerAssertionError) Unwrap() error { return e.Err }

// UnexpectedTerminationError reports a stream that terminated before the
// script cursor reached its terminal step.
type UnexpectedTerminationError struct {
	StepIndex int
	Step      string
	Signal    string
}

func (e *UnexpectedTerminationError) Error() string {
	return fmt.Sprintf("step[%d] %s: stream terminated early with %s", e.StepIndex, e.Step, e.Signal)
}

// FusionUnsupportedError reports a fusion expectation against a subscription
// that does not expose the pull-mode capability.
type FusionUnsupportedError struct {
	StepIndex int
	Requested flow.FusionMode
}

func (e *FusionUnsupportedError) Error() string {
	return fmt.Sprintf("step[%d] expectFusion(%s): subscription does not support fusion", e.StepIndex, e.Requested)
}

// FusionModeMismatchError reports a negotiation that produced an unexpected
// mode.
type FusionModeMismatchError struct {
	StepIndex  int
	Requested  flow.FusionMode
	Expected   flow.FusionMode
	Negotiated flow.FusionMode
}

func (e *FusionModeMismatchError) Error() string {
	return fmt.Sprintf("step[%d] expectFusion(requested %s, expected %s): negotiated %s",
		e.StepIndex, e.Requested, e.Expected, e.Negotiated)
}

// TimeoutError reports that the overall verification duration elapsed while
// waiting for a signal.
type TimeoutError struct {
	Limit     time.Duration
	StepIndex int
	Step      string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step[%d] %s: verification timed out after %s", e.StepIndex, e.Step, e.Limit)
}

// VerdictError is the single aggregate failure returned by Verify. It
// carries every captured failure in order; errors.Is and errors.As see
// through it via Unwrap.
type VerdictError struct {
	Failures []error
	Elapsed  time.Duration
	Signals  int
}

func (e *VerdictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "verification failed after %d signal(s) in %s:", e.Signals, e.Elapsed.Round(time.Microsecond))
	for _, f := range e.Failures {
		b.WriteString("\n  - ")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *VerdictError) Unwrap() []error { return e.Failures }
