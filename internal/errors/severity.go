package errors

import (
	stderrors "errors"
	"fmt"
)

// Severity classifies how an engine error affects the operation that raised it.
type Severity string

const (
	// SeverityWarning is recorded but never stops anything.
	SeverityWarning Severity = "warning"
	// SeverityRecoverable triggers retry-with-backoff where policy permits;
	// after exhaustion it becomes fatal for its operation.
	SeverityRecoverable Severity = "recoverable"
	// SeverityFatal stops the current operation and transitions the owning
	// session to failed. Other sessions are unaffected.
	SeverityFatal Severity = "fatal"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityWarning, SeverityRecoverable, SeverityFatal:
		return true
	}
	return false
}

// EngineError carries a severity alongside the underlying error so callers can
// decide between recording, retrying, and failing the owning session.
type EngineError struct {
	Severity Severity
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is / errors.As chains.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether the operation may be retried.
func (e *EngineError) IsRecoverable() bool {
	return e.Severity != SeverityFatal
}

// Warning wraps err as a warning-severity engine error.
func Warning(op string, err error) *EngineError {
	return &EngineError{Severity: SeverityWarning, Op: op, Err: err}
}

// Recoverable wraps err as a recoverable-severity engine error.
func Recoverable(op string, err error) *EngineError {
	return &EngineError{Severity: SeverityRecoverable, Op: op, Err: err}
}

// Fatal wraps err as a fatal-severity engine error.
func Fatal(op string, err error) *EngineError {
	return &EngineError{Severity: SeverityFatal, Op: op, Err: err}
}

// SeverityOf extracts the severity from an error chain.
// Plain errors without an EngineError in the chain default to fatal, which
// matches the never-swallow rule: an unclassified failure stops its operation.
func SeverityOf(err error) Severity {
	var ee *EngineError
	if stderrors.As(err, &ee) {
		return ee.Severity
	}
	return SeverityFatal
}
