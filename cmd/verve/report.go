package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/probelab/verve/pkg/scenario"
)

// Result glyphs convey meaning without relying on color alone.
const (
	glyphPassed = "✓"
	glyphFailed = "✗"
	glyphError  = "!"
)

var (
	stylePassed = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func printTestOutput(output *scenario.TestOutput) {
	fmt.Println()
	for _, r := range output.Results {
		timing := styleDim.Render(fmt.Sprintf("%dms", r.DurationMs))
		switch r.Status {
		case "passed":
			fmt.Printf("  %s %-40s %s\n", stylePassed.Render(glyphPassed), r.Name, timing)
		case "failed":
			fmt.Printf("  %s %-40s %s\n", styleFailed.Render(glyphFailed), r.Name, timing)
			for _, f := range r.Failures {
				fmt.Printf("      %s\n", styleFailed.Render(f))
			}
		case "error":
			fmt.Printf("  %s %-40s %s\n", styleError.Render(glyphError), r.Name, styleError.Render(r.Error))
		}
	}
	fmt.Printf("\n  %d scenarios, %d passed, %d failed\n",
		output.Summary.Total, output.Summary.Passed, output.Summary.Failed)
	if output.Summary.Errors > 0 {
		fmt.Printf("  %d errors\n", output.Summary.Errors)
	}
}
