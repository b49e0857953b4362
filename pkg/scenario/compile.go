package scenario

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/probelab/verve/pkg/flow"
	"github.com/probelab/verve/pkg/probe"
	"github.com/probelab/verve/pkg/vclock"
)

// Compile translates a validated scenario into an executable Verifier.
// The scenario must have passed Validate; Compile reports rather than
// panics on anything it still cannot translate.
func Compile(sc *Scenario, opts ...probe.Option) (*probe.Verifier[any], error) {
	if errs := Validate(sc); len(errs) > 0 {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, errs[0])
	}

	if sc.InitialRequest != "" && sc.InitialRequest != "unbounded" {
		n, err := strconv.ParseInt(sc.InitialRequest, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("initialRequest: %w", err)
		}
		opts = append(opts, probe.WithDemand(n))
	}

	var first *probe.FirstStep[any]
	if sc.Clock == "real" {
		first = probe.Create(func() flow.Publisher[any] {
			return buildSource(&sc.Source, nil)
		}, opts...)
	} else {
		first = probe.CreateWithVirtualTime(func(v *vclock.Virtual) flow.Publisher[any] {
			return buildSource(&sc.Source, v)
		}, opts...)
	}
	return compileScript(sc, first)
}

// buildSource constructs the synthetic publisher a scenario declares.
// Fused capabilities map to buffer-backed sources; plain sources play their
// emission plan on the run's scheduler.
func buildSource(src *Source, virtual *vclock.Virtual) flow.Publisher[any] {
	values := make([]any, len(src.Emissions))
	for i, e := range src.Emissions {
		values[i] = e.Value
	}

	mode, _ := flow.ParseFusionMode(src.Fusion)
	switch mode {
	case flow.FusionSync:
		return flow.Slice(values...)
	case flow.FusionAsync:
		return flow.AsyncFused(values...)
	}

	var sched flow.Scheduler
	if virtual != nil {
		sched = virtual
	} else {
		sched = vclock.NewReal()
	}
	plan := make([]flow.Emission[any], 0, len(src.Emissions)+1)
	for _, e := range src.Emissions {
		d, _ := parseDuration(e.After)
		plan = append(plan, flow.Emission[any]{After: d, Value: e.Value})
	}
	switch {
	case src.Error != "":
		plan = append(plan, flow.FailAfter[any](0, errors.New(src.Error)))
	case src.Complete:
		plan = append(plan, flow.CompleteAfter[any](0))
	}
	return flow.Scheduled(sched, plan...)
}

func compileScript(sc *Scenario, first *probe.FirstStep[any]) (*probe.Verifier[any], error) {
	// Every wrapper returned by the builder shares one underlying script,
	// so steps can be appended through first/cur interchangeably.
	cur := &first.Step

	for i := range sc.Script {
		st := &sc.Script[i]
		switch st.kind() {
		case "expectSubscription":
			first.ExpectSubscription()

		case "expectFusion":
			requested, _ := flow.ParseFusionMode(st.ExpectFusion.Requested)
			if st.ExpectFusion.Requested == "" {
				requested = flow.FusionAny
			}
			expected := requested
			if st.ExpectFusion.Expected != "" {
				expected, _ = flow.ParseFusionMode(st.ExpectFusion.Expected)
			}
			first.ExpectFusionModes(requested, expected)

		case "expectNoFusion":
			first.ExpectNoFusion()

		case "expectNext":
			cur.ExpectNext(st.ExpectNext...)

		case "expectNextMatch":
			prog, err := compileBool(st.ExpectNextMatch)
			if err != nil {
				return nil, fmt.Errorf("script[%d]: %w", i, err)
			}
			cur.ExpectNextMatch(func(v any) bool {
				return runBool(prog, map[string]any{"value": v})
			})

		case "expectNextCount":
			cur.ExpectNextCount(*st.ExpectNextCount)

		case "expectNextSequence":
			cur.ExpectNextSequence(st.ExpectNextSequence)

		case "record":
			cur.RecordWith(func() []any { return make([]any, 0) })

		case "expectRecorded":
			prog, err := compileBool(st.ExpectRecorded)
			if err != nil {
				return nil, fmt.Errorf("script[%d]: %w", i, err)
			}
			cur.ExpectRecordedWith(func(recorded []any) bool {
				return runBool(prog, map[string]any{
					"recorded": recorded,
					"count":    len(recorded),
				})
			})

		case "thenAwait":
			d, err := parseDuration(st.ThenAwait)
			if err != nil {
				return nil, fmt.Errorf("script[%d]: %w", i, err)
			}
			cur.ThenAwait(d)

		case "thenRequest":
			cur.ThenRequest(*st.ThenRequest)

		case "expectComplete":
			return cur.ExpectComplete(), nil

		case "expectError":
			return compileErrorStep(st.ExpectError, cur, i)

		case "thenCancel":
			return cur.ThenCancel(), nil

		default:
			return nil, fmt.Errorf("script[%d]: step sets no recognized field", i)
		}
	}
	return nil, fmt.Errorf("script has no terminal step")
}

func compileErrorStep(ee *ErrorExpect, cur *probe.Step[any], i int) (*probe.Verifier[any], error) {
	if ee.Matches == "" {
		if ee.Message != "" {
			return cur.ExpectErrorMessage(ee.Message), nil
		}
		return cur.ExpectError(), nil
	}
	prog, err := compileBool(ee.Matches)
	if err != nil {
		return nil, fmt.Errorf("script[%d].matches: %w", i, err)
	}
	message := ee.Message
	return cur.ExpectErrorWith(func(err error) bool {
		if message != "" && err.Error() != message {
			return false
		}
		return runBool(prog, map[string]any{"message": err.Error()})
	}), nil
}

func compileBool(code string) (*vm.Program, error) {
	prog, err := expr.Compile(code, expr.Env(map[string]any{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", code, err)
	}
	return prog, nil
}

func runBool(prog *vm.Program, env map[string]any) bool {
	out, err := expr.Run(prog, env)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}
