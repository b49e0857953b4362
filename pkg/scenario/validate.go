package scenario

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/probelab/verve/pkg/flow"
)

// ValidationError represents a single validation error with location
// context.
type ValidationError struct {
	Phase   string `json:"phase"` // structural, semantic, domain
	Path    string `json:"path"`  // JSON-path-like location (e.g. "script[2]")
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a scenario
// file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Scenario, []*ValidationError) {
	sc, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{Phase: "structural", Message: err.Error()}}
	}
	return sc, Validate(sc)
}

// Validate runs the semantic and domain phases on an already-decoded
// scenario.
func Validate(sc *Scenario) []*ValidationError {
	var errs []*ValidationError
	errs = append(errs, validateSemantic(sc)...)
	errs = append(errs, validateDomain(sc)...)
	return errs
}

// validateSemantic validates the scenario against the generated JSON Schema.
func validateSemantic(sc *Scenario) []*ValidationError {
	fail := func(msg string) []*ValidationError {
		return []*ValidationError{{Phase: "semantic", Message: msg}}
	}

	data, err := json.Marshal(sc)
	if err != nil {
		return fail(fmt.Sprintf("marshal for schema validation: %v", err))
	}
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return fail(fmt.Sprintf("generate schema: %v", err))
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fail(fmt.Sprintf("unmarshal schema: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("scenario-v1.json", schemaDoc); err != nil {
		return fail(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile("scenario-v1.json")
	if err != nil {
		return fail(fmt.Sprintf("compile schema: %v", err))
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fail(fmt.Sprintf("unmarshal document: %v", err))
	}
	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:   "semantic",
					Path:    strings.Join(cause.InstanceLocation, "/"),
					Message: fmt.Sprintf("%v", cause.ErrorKind),
				})
			}
		} else {
			errs = append(errs, &ValidationError{Phase: "semantic", Message: err.Error()})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// validateDomain runs verve/v1 domain-level validation rules. These are the
// same script-shape invariants the probe builder enforces, caught before a
// run ever starts.
func validateDomain(sc *Scenario) []*ValidationError {
	var errs []*ValidationError
	derr := func(path, format string, args ...any) {
		errs = append(errs, &ValidationError{Phase: "domain", Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// D1: apiVersion
	if sc.APIVersion != APIVersion {
		derr("apiVersion", "expected %q, got %q", APIVersion, sc.APIVersion)
	}
	if sc.Name == "" {
		derr("name", "scenario name is required")
	}

	// D2: clock
	switch sc.Clock {
	case "", "virtual", "real":
	default:
		derr("clock", "unknown clock %q (virtual, real)", sc.Clock)
	}

	// D3: initial request
	if sc.InitialRequest != "" && sc.InitialRequest != "unbounded" {
		n, err := strconv.ParseInt(sc.InitialRequest, 10, 64)
		if err != nil || n <= 0 {
			derr("initialRequest", "must be a positive integer or \"unbounded\", got %q", sc.InitialRequest)
		}
	}
	if sc.Timeout != "" {
		if _, err := parseDuration(sc.Timeout); err != nil {
			derr("timeout", "invalid duration: %v", err)
		}
	}

	errs = append(errs, validateSource(&sc.Source)...)
	errs = append(errs, validateScript(sc)...)
	return errs
}

func validateSource(src *Source) []*ValidationError {
	var errs []*ValidationError
	derr := func(path, format string, args ...any) {
		errs = append(errs, &ValidationError{Phase: "domain", Path: path, Message: fmt.Sprintf(format, args...)})
	}

	mode, ok := flow.ParseFusionMode(src.Fusion)
	if !ok {
		derr("source.fusion", "unknown fusion capability %q (none, sync, async)", src.Fusion)
	}
	if src.Complete && src.Error != "" {
		derr("source", "complete and error are mutually exclusive")
	}
	if mode != flow.FusionNone && src.Error != "" {
		derr("source.error", "a fused source drains from a buffer and cannot emit a terminal error")
	}
	for i, e := range src.Emissions {
		path := fmt.Sprintf("source.emissions[%d]", i)
		d, err := parseDuration(e.After)
		if err != nil {
			derr(path+".after", "invalid duration: %v", err)
		} else if d < 0 {
			derr(path+".after", "delay must be non-negative")
		}
		if mode != flow.FusionNone && d > 0 {
			derr(path+".after", "fused sources emit from a buffer; delays are not supported")
		}
	}
	return errs
}

func validateScript(sc *Scenario) []*ValidationError {
	var errs []*ValidationError
	derr := func(path, format string, args ...any) {
		errs = append(errs, &ValidationError{Phase: "domain", Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if len(sc.Script) == 0 {
		derr("script", "script is empty")
		return errs
	}

	recording := false
	for i := range sc.Script {
		st := &sc.Script[i]
		path := fmt.Sprintf("script[%d]", i)

		switch n := st.setFields(); {
		case n == 0:
			derr(path, "step sets no field")
			continue
		case n > 1:
			derr(path, "step sets %d fields, exactly one is allowed", n)
			continue
		}

		if st.terminal() && i != len(sc.Script)-1 {
			derr(path, "%s is terminal and must be the last step", st.kind())
		}

		switch st.kind() {
		case "expectSubscription":
			if i != 0 {
				derr(path, "expectSubscription must be the first step")
			}
		case "expectFusion", "expectNoFusion":
			first := i == 0
			second := i == 1 && sc.Script[0].ExpectSubscription != nil
			if !first && !second {
				derr(path, "%s must directly follow the subscription", st.kind())
			}
			if f := st.ExpectFusion; f != nil {
				if _, ok := flow.ParseFusionMode(f.Requested); !ok {
					derr(path+".requested", "unknown fusion mode %q", f.Requested)
				}
				if _, ok := flow.ParseFusionMode(f.Expected); !ok {
					derr(path+".expected", "unknown fusion mode %q", f.Expected)
				}
			}
		case "expectNextMatch":
			errs = append(errs, checkPredicate(path, st.ExpectNextMatch, map[string]any{})...)
		case "expectNextCount":
			if *st.ExpectNextCount < 0 {
				derr(path, "expectNextCount must be non-negative")
			}
		case "record":
			recording = true
		case "expectRecorded":
			if !recording {
				derr(path, "expectRecorded has no open recording session")
			}
			recording = false
			errs = append(errs, checkPredicate(path, st.ExpectRecorded, map[string]any{})...)
		case "thenAwait":
			d, err := parseDuration(st.ThenAwait)
			if err != nil {
				derr(path, "invalid duration: %v", err)
			} else if d < 0 {
				derr(path, "thenAwait duration must be non-negative")
			}
		case "thenRequest":
			if *st.ThenRequest <= 0 {
				derr(path, "thenRequest amount must be positive")
			}
		case "expectError":
			if m := st.ExpectError.Matches; m != "" {
				errs = append(errs, checkPredicate(path+".matches", m, map[string]any{})...)
			}
		}
	}

	if !sc.Script[len(sc.Script)-1].terminal() {
		derr("script", "script must end with expectComplete, expectError, or thenCancel")
	}
	return errs
}

// checkPredicate compiles an expr predicate to surface syntax errors at
// validation time rather than mid-run.
func checkPredicate(path, code string, env map[string]any) []*ValidationError {
	if _, err := expr.Compile(code, expr.Env(env), expr.AsBool()); err != nil {
		return []*ValidationError{{Phase: "domain", Path: path, Message: fmt.Sprintf("compile predicate %q: %v", code, err)}}
	}
	return nil
}
