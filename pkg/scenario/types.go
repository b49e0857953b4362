// Package scenario implements declarative verification scenarios: YAML
// documents that describe a synthetic stream source and the script it must
// satisfy. Scenario files are validated in three phases, compiled to a
// probe.Verifier, and run by the Runner — the file-driven counterpart of the
// fluent builder.
package scenario

import "time"

// APIVersion is the accepted apiVersion value for scenario documents.
const APIVersion = "verve/v1"

// Scenario is the top-level scenario document.
type Scenario struct {
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`
	Name       string `yaml:"name" json:"name"`

	// Clock selects the time environment: "virtual" (default) plays
	// emission delays on a logical scheduler, "real" on wall-clock timers.
	Clock string `yaml:"clock,omitempty" json:"clock,omitempty"`

	// InitialRequest is the demand issued upon subscription: a positive
	// integer or "unbounded" (default).
	InitialRequest string `yaml:"initialRequest,omitempty" json:"initialRequest,omitempty"`

	// Timeout bounds the whole run in real time (duration string).
	// Empty means the runner's default.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Source Source `yaml:"source" json:"source"`

	Script []ScriptStep `yaml:"script" json:"script"`
}

// Source declares the synthetic publisher a scenario verifies against.
type Source struct {
	// Fusion is the pull-mode capability of the source: "none" (default),
	// "sync" or "async". Fused sources emit their values from a buffer and
	// ignore emission delays.
	Fusion string `yaml:"fusion,omitempty" json:"fusion,omitempty"`

	// Emissions is the ordered plan of item signals.
	Emissions []Emission `yaml:"emissions,omitempty" json:"emissions,omitempty"`

	// Complete appends a completion signal after the last emission.
	Complete bool `yaml:"complete,omitempty" json:"complete,omitempty"`

	// Error appends a terminal error with this message after the last
	// emission. Mutually exclusive with Complete.
	Error string `yaml:"error,omitempty" json:"error,omitempty"`
}

// Emission is one item of the source's plan.
type Emission struct {
	Value any `yaml:"value" json:"value"`

	// After delays the emission relative to the previous one
	// (duration string, e.g. "5s"). Empty means immediately.
	After string `yaml:"after,omitempty" json:"after,omitempty"`
}

// ScriptStep is one unit of the scenario script. Exactly one field must be
// set per step.
type ScriptStep struct {
	ExpectSubscription *bool            `yaml:"expectSubscription,omitempty" json:"expectSubscription,omitempty"`
	ExpectFusion       *FusionExpect    `yaml:"expectFusion,omitempty" json:"expectFusion,omitempty"`
	ExpectNoFusion     *bool            `yaml:"expectNoFusion,omitempty" json:"expectNoFusion,omitempty"`
	ExpectNext         []any            `yaml:"expectNext,omitempty" json:"expectNext,omitempty"`
	ExpectNextMatch    string           `yaml:"expectNextMatch,omitempty" json:"expectNextMatch,omitempty"`
	ExpectNextCount    *int64           `yaml:"expectNextCount,omitempty" json:"expectNextCount,omitempty"`
	ExpectNextSequence []any            `yaml:"expectNextSequence,omitempty" json:"expectNextSequence,omitempty"`
	Record             *bool            `yaml:"record,omitempty" json:"record,omitempty"`
	ExpectRecorded     string           `yaml:"expectRecorded,omitempty" json:"expectRecorded,omitempty"`
	ThenAwait          string           `yaml:"thenAwait,omitempty" json:"thenAwait,omitempty"`
	ThenRequest        *int64           `yaml:"thenRequest,omitempty" json:"thenRequest,omitempty"`
	ExpectComplete     *bool            `yaml:"expectComplete,omitempty" json:"expectComplete,omitempty"`
	ExpectError        *ErrorExpect     `yaml:"expectError,omitempty" json:"expectError,omitempty"`
	ThenCancel         *bool            `yaml:"thenCancel,omitempty" json:"thenCancel,omitempty"`
}

// FusionExpect configures an expectFusion step. Modes are mask names:
// "sync", "async", "any", "none".
type FusionExpect struct {
	Requested string `yaml:"requested,omitempty" json:"requested,omitempty"`
	// Expected defaults to Requested when empty.
	Expected string `yaml:"expected,omitempty" json:"expected,omitempty"`
}

// ErrorExpect configures an expectError terminal step. All set fields must
// hold; none set expects any error.
type ErrorExpect struct {
	// Message must equal the error message exactly.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
	// Matches is an expr predicate over {message}.
	Matches string `yaml:"matches,omitempty" json:"matches,omitempty"`
}

// kind names the single set field of a step, for validation and reports.
func (s *ScriptStep) kind() string {
	switch {
	case s.ExpectSubscription != nil:
		return "expectSubscription"
	case s.ExpectFusion != nil:
		return "expectFusion"
	case s.ExpectNoFusion != nil:
		return "expectNoFusion"
	case len(s.ExpectNext) > 0:
		return "expectNext"
	case s.ExpectNextMatch != "":
		return "expectNextMatch"
	case s.ExpectNextCount != nil:
		return "expectNextCount"
	case len(s.ExpectNextSequence) > 0:
		return "expectNextSequence"
	case s.Record != nil:
		return "record"
	case s.ExpectRecorded != "":
		return "expectRecorded"
	case s.ThenAwait != "":
		return "thenAwait"
	case s.ThenRequest != nil:
		return "thenRequest"
	case s.ExpectComplete != nil:
		return "expectComplete"
	case s.ExpectError != nil:
		return "expectError"
	case s.ThenCancel != nil:
		return "thenCancel"
	default:
		return ""
	}
}

// setFields counts how many step fields are set; a valid step has one.
func (s *ScriptStep) setFields() int {
	n := 0
	for _, set := range []bool{
		s.ExpectSubscription != nil,
		s.ExpectFusion != nil,
		s.ExpectNoFusion != nil,
		len(s.ExpectNext) > 0,
		s.ExpectNextMatch != "",
		s.ExpectNextCount != nil,
		len(s.ExpectNextSequence) > 0,
		s.Record != nil,
		s.ExpectRecorded != "",
		s.ThenAwait != "",
		s.ThenRequest != nil,
		s.ExpectComplete != nil,
		s.ExpectError != nil,
		s.ThenCancel != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// terminal reports whether the step ends the script.
func (s *ScriptStep) terminal() bool {
	return s.ExpectComplete != nil || s.ExpectError != nil || s.ThenCancel != nil
}

// parseDuration parses an optional duration string; empty is zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
