package scenario

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingYAML = `
apiVersion: verve/v1
name: passing
source:
  emissions: [{value: ok}]
  complete: true
script:
  - expectNext: [ok]
  - expectComplete: true
`

const failingYAML = `
apiVersion: verve/v1
name: failing
source:
  emissions: [{value: actual}]
  complete: true
script:
  - expectNext: [expected]
  - expectComplete: true
`

const invalidYAML = `
apiVersion: verve/v1
name: invalid
source: {complete: true}
script:
  - thenRequest: 1
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDiscoverWalksDirectories(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "b.yaml", passingYAML)
	writeScenario(t, dir, "a.yml", passingYAML)
	writeScenario(t, dir, "notes.txt", "not a scenario")

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeScenario(t, sub, "c.yaml", passingYAML)

	files, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dir, "a.yml"), files[0])
}

func TestDiscoverPassesFilesThrough(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "one.yaml", passingYAML)
	files, err := Discover(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}

func TestRunnerRunAll(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "1-pass.yaml", passingYAML)
	writeScenario(t, dir, "2-fail.yaml", failingYAML)
	writeScenario(t, dir, "3-invalid.yaml", invalidYAML)

	files, err := Discover(dir)
	require.NoError(t, err)

	r := &Runner{Timeout: 5 * time.Second}
	output := r.RunAll(files)

	require.Equal(t, 3, output.Summary.Total)
	assert.Equal(t, 1, output.Summary.Passed)
	assert.Equal(t, 1, output.Summary.Failed)
	assert.Equal(t, 1, output.Summary.Errors)

	byName := map[string]TestResult{}
	for _, res := range output.Results {
		byName[res.Name] = res
	}
	assert.Equal(t, "passed", byName["passing"].Status)
	assert.Equal(t, "failed", byName["failing"].Status)
	assert.NotEmpty(t, byName["failing"].Failures)

	invalid := byName["3-invalid"]
	assert.Equal(t, "error", invalid.Status)
	assert.Contains(t, invalid.Error, "validation")
}

func TestRunnerFailFast(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "1-fail.yaml", failingYAML)
	writeScenario(t, dir, "2-pass.yaml", passingYAML)

	files, err := Discover(dir)
	require.NoError(t, err)

	r := &Runner{Timeout: 5 * time.Second, FailFast: true}
	output := r.RunAll(files)
	assert.Equal(t, 1, output.Summary.Total, "fail-fast must stop after the first failure")
	assert.Equal(t, 1, output.Summary.Failed)
}

func TestRunnerHonorsScenarioTimeout(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "hang.yaml", `
apiVersion: verve/v1
name: hang
timeout: 50ms
source:
  emissions: [{value: only}]
script:
  - expectNext: [only, never]
  - expectComplete: true
`)

	r := &Runner{Timeout: time.Minute}
	output := r.RunAll([]string{filepath.Join(dir, "hang.yaml")})
	require.Equal(t, 1, output.Summary.Failed)
	require.NotEmpty(t, output.Results[0].Failures)
	assert.Contains(t, output.Results[0].Failures[0], "timed out")
}
