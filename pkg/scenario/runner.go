package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/probelab/verve/pkg/probe"
	"github.com/probelab/verve/pkg/trace"
)

// Runner discovers and executes scenario files.
type Runner struct {
	Timeout  time.Duration // default per-scenario cap; a scenario's own timeout wins
	FailFast bool          // stop after the first failed or errored scenario
	Logger   *log.Logger   // nil disables run logging
	Tracer   *trace.Writer // nil disables trace emission
}

// TestResult captures the outcome of running one scenario file.
type TestResult struct {
	Name       string   `json:"name"`
	File       string   `json:"file"`
	Status     string   `json:"status"` // passed, failed, error
	DurationMs int64    `json:"duration_ms"`
	Failures   []string `json:"failures,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// TestSummary aggregates results across scenario files.
type TestSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}

// TestOutput is the top-level JSON structure for verve test --json.
type TestOutput struct {
	Results []TestResult `json:"results"`
	Summary TestSummary  `json:"summary"`
}

// Discover expands the given paths into scenario files. Directories are
// walked recursively for .yaml/.yml files; plain files pass through.
func Discover(paths ...string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch filepath.Ext(path) {
			case ".yaml", ".yml":
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// RunAll executes every scenario file and returns aggregated results.
func (r *Runner) RunAll(files []string) *TestOutput {
	output := &TestOutput{}
	for _, file := range files {
		result := r.runFile(file)
		output.Results = append(output.Results, result)

		switch result.Status {
		case "passed":
			output.Summary.Passed++
		case "failed":
			output.Summary.Failed++
		case "error":
			output.Summary.Errors++
		}
		output.Summary.Total++

		if r.FailFast && result.Status != "passed" {
			break
		}
	}
	return output
}

func (r *Runner) runFile(file string) TestResult {
	start := time.Now()
	result := TestResult{
		Name: strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)),
		File: file,
	}

	sc, errs := ValidateFile(file)
	if len(errs) > 0 {
		result.Status = "error"
		result.Error = fmt.Sprintf("validation: %v", errs[0])
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}
	result.Name = sc.Name

	var opts []probe.Option
	if r.Logger != nil {
		opts = append(opts, probe.WithLogger(r.Logger))
	}
	if r.Tracer != nil {
		opts = append(opts, probe.WithTrace(r.Tracer))
	}
	verifier, err := Compile(sc, opts...)
	if err != nil {
		result.Status = "error"
		result.Error = fmt.Sprintf("compile: %v", err)
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	timeout := r.Timeout
	if sc.Timeout != "" {
		timeout, _ = parseDuration(sc.Timeout)
	}

	var verr error
	if timeout > 0 {
		_, verr = verifier.VerifyTimeout(timeout)
	} else {
		_, verr = verifier.Verify()
	}
	result.DurationMs = time.Since(start).Milliseconds()

	if verr == nil {
		result.Status = "passed"
		return result
	}

	result.Status = "failed"
	var verdict *probe.VerdictError
	if errors.As(verr, &verdict) {
		for _, f := range verdict.Failures {
			result.Failures = append(result.Failures, f.Error())
		}
	} else {
		result.Failures = append(result.Failures, verr.Error())
	}
	return result
}
