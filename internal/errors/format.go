package errors

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	// Color functions with auto-detection for terminal support.
	// These fall back gracefully when colors are unavailable.
	errorLabel  = color.New(color.FgRed, color.Bold).SprintFunc()
	errorMsg    = color.New(color.FgRed).SprintFunc()
	fixLabel    = color.New(color.FgGreen, color.Bold).SprintFunc()
	usageLabel  = color.New(color.FgCyan, color.Bold).SprintFunc()
	usageText   = color.New(color.FgCyan).SprintFunc()
	bullet      = color.New(color.FgGreen).SprintFunc()
	categoryFmt = color.New(color.FgYellow).SprintFunc()
	warnLabel   = color.New(color.FgYellow, color.Bold).SprintFunc()
)

// FormatError formats a CLIError for terminal display, with colors when the
// output supports them.
func FormatError(err *CLIError) string {
	if err == nil {
		return ""
	}
	return formatError(err, true)
}

// FormatErrorPlain formats a CLIError without colors.
func FormatErrorPlain(err *CLIError) string {
	if err == nil {
		return ""
	}
	return formatError(err, false)
}

func formatError(err *CLIError, useColors bool) string {
	var sb strings.Builder

	writeHeader(&sb, err, useColors)

	if err.Usage != "" {
		sb.WriteString("\n")
		if useColors {
			sb.WriteString(usageLabel("Usage: "))
			sb.WriteString(usageText(err.Usage))
		} else {
			sb.WriteString("Usage: ")
			sb.WriteString(err.Usage)
		}
		sb.WriteString("\n")
	}

	writeRemediation(&sb, err.Remediation, useColors)

	return sb.String()
}

func writeHeader(sb *strings.Builder, err *CLIError, useColors bool) {
	if useColors {
		sb.WriteString(errorLabel("Error"))
		sb.WriteString(" [")
		sb.WriteString(categoryFmt(err.Category.String()))
		sb.WriteString("]: ")
		sb.WriteString(errorMsg(err.Message))
	} else {
		sb.WriteString("Error [")
		sb.WriteString(err.Category.String())
		sb.WriteString("]: ")
		sb.WriteString(err.Message)
	}
	sb.WriteString("\n")
}

func writeRemediation(sb *strings.Builder, steps []string, useColors bool) {
	if len(steps) == 0 {
		return
	}
	sb.WriteString("\n")
	if useColors {
		sb.WriteString(fixLabel("To fix this:"))
	} else {
		sb.WriteString("To fix this:")
	}
	sb.WriteString("\n")
	for _, step := range steps {
		if useColors {
			sb.WriteString("  ")
			sb.WriteString(bullet("•"))
			sb.WriteString(" ")
		} else {
			sb.WriteString("  • ")
		}
		sb.WriteString(step)
		sb.WriteString("\n")
	}
}

// FormatWarning renders a one-line warning with a colored label.
func FormatWarning(message string) string {
	return fmt.Sprintf("%s %s\n", warnLabel("Warning:"), message)
}

// PrintError prints a formatted CLIError to stderr. Plain errors are wrapped
// as runtime errors so the output shape stays consistent.
func PrintError(err error) {
	FprintError(os.Stderr, err)
}

// FprintError prints a formatted error to the given writer.
func FprintError(w io.Writer, err error) {
	if err == nil {
		return
	}
	cliErr := AsCLIError(err)
	if cliErr == nil {
		cliErr = &CLIError{Category: Runtime, Message: err.Error()}
	}
	fmt.Fprint(w, FormatError(cliErr))
}
