package scenario

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, yaml string) *Scenario {
	t.Helper()
	sc, err := Load(strings.NewReader(yaml))
	require.NoError(t, err)
	return sc
}

func findError(errs []*ValidationError, path string) *ValidationError {
	for _, e := range errs {
		if e.Path == path {
			return e
		}
	}
	return nil
}

func TestValidateAcceptsValidScenario(t *testing.T) {
	sc := mustLoad(t, validScenarioYAML)
	errs := Validate(sc)
	assert.Empty(t, errs)
}

func TestValidateDomainRules(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		wantPath string
		wantMsg  string
	}{
		{
			name: "wrong apiVersion",
			yaml: `
apiVersion: verve/v9
name: x
source: {complete: true}
script:
  - expectComplete: true
`,
			wantPath: "apiVersion",
			wantMsg:  "verve/v1",
		},
		{
			name: "missing name",
			yaml: `
apiVersion: verve/v1
source: {complete: true}
script:
  - expectComplete: true
`,
			wantPath: "name",
			wantMsg:  "required",
		},
		{
			name: "unknown clock",
			yaml: `
apiVersion: verve/v1
name: x
clock: sundial
source: {complete: true}
script:
  - expectComplete: true
`,
			wantPath: "clock",
			wantMsg:  "sundial",
		},
		{
			name: "bad initial request",
			yaml: `
apiVersion: verve/v1
name: x
initialRequest: "-3"
source: {complete: true}
script:
  - expectComplete: true
`,
			wantPath: "initialRequest",
			wantMsg:  "positive",
		},
		{
			name: "complete and error exclusive",
			yaml: `
apiVersion: verve/v1
name: x
source:
  complete: true
  error: boom
script:
  - expectError: {}
`,
			wantPath: "source",
			wantMsg:  "mutually exclusive",
		},
		{
			name: "sync fused source with error",
			yaml: `
apiVersion: verve/v1
name: x
source:
  fusion: sync
  error: boom
script:
  - expectError: {}
`,
			wantPath: "source.error",
			wantMsg:  "fused source",
		},
		{
			name: "async fused source with error",
			yaml: `
apiVersion: verve/v1
name: x
source:
  fusion: async
  emissions: [{value: 1}]
  error: boom
script:
  - expectError: {message: boom}
`,
			wantPath: "source.error",
			wantMsg:  "fused source",
		},
		{
			name: "fused source with delay",
			yaml: `
apiVersion: verve/v1
name: x
source:
  fusion: sync
  emissions:
    - value: 1
      after: 3s
script:
  - expectNext: [1]
  - expectComplete: true
`,
			wantPath: "source.emissions[0].after",
			wantMsg:  "delays are not supported",
		},
		{
			name: "step with two fields",
			yaml: `
apiVersion: verve/v1
name: x
source: {complete: true}
script:
  - expectNextCount: 1
    thenRequest: 1
  - expectComplete: true
`,
			wantPath: "script[0]",
			wantMsg:  "exactly one",
		},
		{
			name: "terminal mid-script",
			yaml: `
apiVersion: verve/v1
name: x
source: {complete: true}
script:
  - expectComplete: true
  - thenRequest: 1
  - thenCancel: true
`,
			wantPath: "script[0]",
			wantMsg:  "must be the last step",
		},
		{
			name: "subscription not first",
			yaml: `
apiVersion: verve/v1
name: x
source:
  emissions: [{value: 1}]
  complete: true
script:
  - expectNext: [1]
  - expectSubscription: true
  - expectComplete: true
`,
			wantPath: "script[1]",
			wantMsg:  "first step",
		},
		{
			name: "fusion after items",
			yaml: `
apiVersion: verve/v1
name: x
source:
  fusion: sync
  emissions: [{value: 1}]
script:
  - expectNext: [1]
  - expectFusion: {requested: sync}
  - expectComplete: true
`,
			wantPath: "script[1]",
			wantMsg:  "directly follow the subscription",
		},
		{
			name: "expectRecorded without record",
			yaml: `
apiVersion: verve/v1
name: x
source: {complete: true}
script:
  - expectRecorded: count == 0
  - expectComplete: true
`,
			wantPath: "script[0]",
			wantMsg:  "no open recording session",
		},
		{
			name: "broken predicate",
			yaml: `
apiVersion: verve/v1
name: x
source:
  emissions: [{value: 1}]
  complete: true
script:
  - expectNextMatch: "value =="
  - expectComplete: true
`,
			wantPath: "script[0]",
			wantMsg:  "compile predicate",
		},
		{
			name: "no terminal step",
			yaml: `
apiVersion: verve/v1
name: x
source: {complete: true}
script:
  - thenRequest: 1
`,
			wantPath: "script",
			wantMsg:  "must end with",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := mustLoad(t, tt.yaml)
			errs := Validate(sc)
			require.NotEmpty(t, errs, "expected validation errors")
			e := findError(errs, tt.wantPath)
			require.NotNil(t, e, "no error at path %q; got %v", tt.wantPath, errs)
			assert.Contains(t, e.Message, tt.wantMsg)
		})
	}
}

func TestValidateFileReportsStructuralErrors(t *testing.T) {
	_, errs := ValidateFile("does/not/exist.yaml")
	require.Len(t, errs, 1)
	assert.Equal(t, "structural", errs[0].Phase)
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), "scenario-v1.json")
	assert.Contains(t, string(data), "expectNextMatch")
}
