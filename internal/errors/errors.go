// Package errors provides structured error handling for the specforge CLI
// and engine. It includes categorized errors with actionable remediation
// guidance and the severity taxonomy used by sessions and pipeline phases.
package errors

import "fmt"

// ErrorCategory tells the terminal formatter and exit-code mapping what kind
// of failure a CLIError describes.
type ErrorCategory int

const (
	// Argument covers invalid or missing command-line arguments.
	Argument ErrorCategory = iota
	// Configuration covers bad or missing config values, from any source.
	Configuration
	// Prerequisite covers missing files, tools, or state the command needs
	// before it can start (no git repo, no spec dir, no API key).
	Prerequisite
	// Runtime covers everything that fails after a command is underway.
	Runtime
)

// String returns the display heading for the category.
func (c ErrorCategory) String() string {
	switch c {
	case Argument:
		return "Argument Error"
	case Configuration:
		return "Configuration Error"
	case Prerequisite:
		return "Prerequisite Error"
	case Runtime:
		return "Runtime Error"
	default:
		return "Error"
	}
}

// CLIError is an error the CLI can render with remediation steps instead of
// a bare message. Commands return these for failures a user can act on.
type CLIError struct {
	Category ErrorCategory
	Message  string
	// Remediation lists concrete steps to resolve the failure, printed
	// in order under the message.
	Remediation []string
	// Usage holds the correct invocation for argument errors.
	Usage string
}

func (e *CLIError) Error() string {
	return e.Message
}

// NewArgumentError creates an argument error with remediation steps.
func NewArgumentError(message string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Argument,
		Message:     message,
		Remediation: remediation,
	}
}

// NewArgumentErrorWithUsage is NewArgumentError plus the correct invocation,
// e.g. `specforge run "<task description>"`.
func NewArgumentErrorWithUsage(message, usage string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Argument,
		Message:     message,
		Usage:       usage,
		Remediation: remediation,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Configuration,
		Message:     message,
		Remediation: remediation,
	}
}

// NewPrerequisiteError creates a prerequisite error.
func NewPrerequisiteError(message string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Prerequisite,
		Message:     message,
		Remediation: remediation,
	}
}

// NewRuntimeError creates a runtime error.
func NewRuntimeError(message string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Runtime,
		Message:     message,
		Remediation: remediation,
	}
}

// Wrap lifts any error into a CLIError under the given category, keeping
// the original message as the display message.
func Wrap(err error, category ErrorCategory, remediation ...string) *CLIError {
	if err == nil {
		return nil
	}
	return &CLIError{
		Category:    category,
		Message:     err.Error(),
		Remediation: remediation,
	}
}

// WrapWithMessage lifts an error into a CLIError, prefixing it with context
// the same way fmt's %w wrapping would read.
func WrapWithMessage(err error, category ErrorCategory, message string, remediation ...string) *CLIError {
	if err == nil {
		return nil
	}
	return &CLIError{
		Category:    category,
		Message:     fmt.Sprintf("%s: %v", message, err),
		Remediation: remediation,
	}
}

// IsCLIError reports whether err is a CLIError.
func IsCLIError(err error) bool {
	_, ok := err.(*CLIError)
	return ok
}

// AsCLIError returns err as a CLIError, or nil when it is not one.
func AsCLIError(err error) *CLIError {
	cliErr, ok := err.(*CLIError)
	if ok {
		return cliErr
	}
	return nil
}
