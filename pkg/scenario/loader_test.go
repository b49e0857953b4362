package scenario

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenarioYAML = `
apiVersion: verve/v1
name: smoke
source:
  emissions:
    - value: 1
    - value: 2
  complete: true
script:
  - expectNext: [1, 2]
  - expectComplete: true
`

func TestLoadValidScenario(t *testing.T) {
	sc, err := Load(strings.NewReader(validScenarioYAML))
	require.NoError(t, err)
	assert.Equal(t, "verve/v1", sc.APIVersion)
	assert.Equal(t, "smoke", sc.Name)
	assert.Len(t, sc.Source.Emissions, 2)
	assert.True(t, sc.Source.Complete)
	require.Len(t, sc.Script, 2)
	assert.Equal(t, "expectNext", sc.Script[0].kind())
	assert.Equal(t, "expectComplete", sc.Script[1].kind())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(strings.NewReader(`
apiVersion: verve/v1
name: bad
sauce:
  emissions: []
script:
  - expectComplete: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "structural decode")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("does/not/exist.yaml")
	require.Error(t, err)
}

func TestStepKindAndSetFields(t *testing.T) {
	n := int64(2)
	st := ScriptStep{ExpectNextCount: &n}
	assert.Equal(t, "expectNextCount", st.kind())
	assert.Equal(t, 1, st.setFields())
	assert.False(t, st.terminal())

	yes := true
	both := ScriptStep{ExpectComplete: &yes, ThenCancel: &yes}
	assert.Equal(t, 2, both.setFields())
	assert.True(t, both.terminal())

	empty := ScriptStep{}
	assert.Equal(t, "", empty.kind())
	assert.Equal(t, 0, empty.setFields())
}
