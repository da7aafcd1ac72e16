// Package output provides terminal output formatting for the specforge CLI.
// This package is designed to have minimal dependencies to avoid import cycles.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// GetTerminalWidth returns the terminal width, defaulting to 80 if unavailable.
func GetTerminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}

// PrintDivider prints a centered labeled separator line.
// Uses dim magenta styling to separate streamed tool output from CLI output.
func PrintDivider(out io.Writer) {
	termWidth := GetTerminalWidth()
	magenta := color.New(color.FgMagenta, color.Faint).SprintFunc()

	label := " specforge "
	lineLen := (termWidth - len(label)) / 2
	if lineLen < 3 {
		lineLen = 3
	}

	line := strings.Repeat("─", lineLen)
	fmt.Fprintf(out, "\n%s%s%s\n", magenta(line), magenta(label), magenta(line))
}

// PrintTaskBanner prints the task being run.
// Uses a bold white title over a dim rule sized to the task text.
func PrintTaskBanner(out io.Writer, task string) {
	white := color.New(color.FgWhite, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	ruleLen := len(task)
	if max := GetTerminalWidth(); ruleLen > max {
		ruleLen = max
	}
	fmt.Fprintf(out, "%s\n%s\n", white(task), dim(strings.Repeat("─", ruleLen)))
}

// PrintPhaseHeader prints a colored phase header (e.g., "[2/5] planning...").
// Uses cyan for the position indicator and white for the phase name.
func PrintPhaseHeader(out io.Writer, phaseNum, totalPhases int, phaseName string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	white := color.New(color.FgWhite, color.Bold).SprintFunc()
	fmt.Fprintf(out, "%s %s\n", cyan(fmt.Sprintf("[%d/%d]", phaseNum, totalPhases)), white(phaseName+"..."))
}

// PrintSuccess prints a colored success line.
// Uses a green checkmark and cyan for the message.
func PrintSuccess(out io.Writer, message string) {
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(out, "%s %s\n", green("✓"), cyan(message))
}

// PrintFailure prints a colored failure line.
// Uses a red cross and red text so failures stand out in run summaries.
func PrintFailure(out io.Writer, message string) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	msg := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(out, "%s %s\n", red("✗"), msg(message))
}

// PrintDetail prints an indented dim detail line under a phase or summary.
func PrintDetail(out io.Writer, message string) {
	dim := color.New(color.Faint).SprintFunc()
	fmt.Fprintf(out, "  %s\n", dim(message))
}

// PrintKeyValue prints an aligned key/value summary line.
// Uses dim for the key and default text for the value.
func PrintKeyValue(out io.Writer, key, value string) {
	dim := color.New(color.Faint).SprintFunc()
	fmt.Fprintf(out, "  %s %s\n", dim(fmt.Sprintf("%-12s", key+":")), value)
}
