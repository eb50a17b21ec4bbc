package pattern

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. The executor's retry policy is
// driven entirely by kind: validation and configuration failures are
// terminal, execution-class failures (including timeouts) are retried.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindExecution            ErrorKind = "execution"
	KindResourceNotAvailable ErrorKind = "resource_not_available"
	KindAgentNotAvailable    ErrorKind = "agent_not_available"
	KindTimeout              ErrorKind = "timeout"
	KindRollback             ErrorKind = "rollback"
	KindInvalidState         ErrorKind = "invalid_state"
	KindConfiguration        ErrorKind = "configuration"
	KindCommunication        ErrorKind = "communication"
	KindConstraintViolation  ErrorKind = "constraint_violation"
	KindTemplateNotFound     ErrorKind = "template_not_found"
	KindPatternNotFound      ErrorKind = "pattern_not_found"
)

// Error is the engine's typed failure. It wraps an optional cause and
// carries the pattern id the failure belongs to.
type Error struct {
	Kind      ErrorKind
	PatternID string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg = msg + ": " + e.Err.Error()
		} else {
			msg = e.Err.Error()
		}
	}
	if e.PatternID != "" {
		return fmt.Sprintf("%s: pattern %s: %s", e.Kind, e.PatternID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a typed engine error.
func Errorf(kind ErrorKind, patternID, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		PatternID: patternID,
		Message:   fmt.Sprintf(format, args...),
	}
}

// WrapError builds a typed engine error around a cause.
func WrapError(kind ErrorKind, patternID string, err error) *Error {
	return &Error{
		Kind:      kind,
		PatternID: patternID,
		Err:       err,
	}
}

// KindOf extracts the kind of an engine error. Foreign errors report
// KindExecution, the kind for pattern-internal failures.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindExecution
}

// Retryable reports whether the executor should re-attempt after this
// failure. Validation, configuration, and lookup failures require the
// caller to fix the input and call again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindConfiguration, KindPatternNotFound, KindTemplateNotFound, KindInvalidState:
		return false
	}
	return true
}
