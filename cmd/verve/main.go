package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/probelab/verve/pkg/scenario"
	"github.com/probelab/verve/pkg/trace"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "verve",
	Short: "Declarative verification for asynchronous streams",
	Long:  "verve — script expected signals against a push-based source, then verify demand, fusion, timing, and termination in one run.",
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [scenario.yaml]",
	Short: "Validate a scenario YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	sc, errs := scenario.ValidateFile(args[0])
	if len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(errs))
		for i, e := range errs {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", len(errs))
	}
	fmt.Printf("✓ %s is valid (%d steps)\n", sc.Name, len(sc.Script))
	return nil
}

// --- test ---

var (
	testJSON     bool
	testFailFast bool
	testTimeout  string
	testTrace    string
	testVerbose  bool
)

var testCmd = &cobra.Command{
	Use:   "test [scenario.yaml|dir...]",
	Short: "Run scenario verification files",
	Long: `Validate, compile, and verify each scenario file. Directories are
walked recursively for .yaml/.yml files.

Exit codes:
  0 — all scenarios passed
  1 — at least one scenario failed
  2 — a scenario could not be validated or compiled (no verdict)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	timeout := 30 * time.Second
	if testTimeout != "" {
		d, err := time.ParseDuration(testTimeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout %q: %w", testTimeout, err)
		}
		timeout = d
	}

	files, err := scenario.Discover(args...)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no scenario files found")
	}

	runner := &scenario.Runner{Timeout: timeout, FailFast: testFailFast}
	if testVerbose {
		logger := log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Level:           log.DebugLevel,
		})
		runner.Logger = logger
	}
	if testTrace != "" {
		runID := fmt.Sprintf("verve-%d", time.Now().UnixNano())
		w, err := trace.NewFileWriter(testTrace, runID)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer w.Close()
		runner.Tracer = w
	}

	output := runner.RunAll(files)

	if testJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(output)
	} else {
		printTestOutput(output)
	}

	if output.Summary.Errors > 0 {
		os.Exit(2)
	}
	if output.Summary.Failed > 0 {
		os.Exit(1)
	}
	return nil
}

// --- schema export ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the scenario JSON Schema to stdout",
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	data, err := scenario.GenerateJSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("verve %s (build: %s)\n", version, commit)
	},
}

func init() {
	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)

	testCmd.Flags().BoolVar(&testJSON, "json", false, "Output results as structured JSON")
	testCmd.Flags().BoolVar(&testFailFast, "fail-fast", false, "Stop after first failure")
	testCmd.Flags().StringVar(&testTimeout, "timeout", "30s", "Default per-scenario timeout (e.g. 30s, 1m)")
	testCmd.Flags().StringVar(&testTrace, "trace", "", "Write a JSONL signal trace to this file")
	testCmd.Flags().BoolVar(&testVerbose, "verbose", false, "Log run progress to stderr")
}
