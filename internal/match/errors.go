package match

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a run failure or no-op.
type Code string

const (
	CodeInsufficientParticipants  Code = "InsufficientParticipants"
	CodeUnassignableParticipants  Code = "UnassignableParticipants"
	CodeOracleUnavailable         Code = "OracleUnavailable"
	CodeDirectoryReadFailure      Code = "DirectoryReadFailure"
	CodeUnsatisfiableClusterSizes Code = "UnsatisfiableClusterSizes"
	CodeInternalInvariant         Code = "InternalInvariantViolation"
	CodeAlreadyComputed           Code = "AlreadyComputed"
	CodeLockHeld                  Code = "LockHeld"
	CodeRunFailed                 Code = "MatchingRunFailed"
)

// Class groups codes by how the caller reacts to them.
type Class int

const (
	ClassUnknown Class = iota
	ClassInput
	ClassExternal
	ClassConstraint
	ClassInternal
	ClassConflict
)

// Class returns the handling class of the code.
func (c Code) Class() Class {
	switch c {
	case CodeInsufficientParticipants, CodeUnassignableParticipants:
		return ClassInput
	case CodeOracleUnavailable, CodeDirectoryReadFailure:
		return ClassExternal
	case CodeUnsatisfiableClusterSizes:
		return ClassConstraint
	case CodeInternalInvariant:
		return ClassInternal
	case CodeAlreadyComputed, CodeLockHeld:
		return ClassConflict
	}
	return ClassUnknown
}

// Sentinels for errors.Is. An *Error matches the sentinel of its code.
var (
	ErrInsufficientParticipants  = &Error{Code: CodeInsufficientParticipants}
	ErrUnassignableParticipants  = &Error{Code: CodeUnassignableParticipants}
	ErrOracleUnavailable         = &Error{Code: CodeOracleUnavailable}
	ErrDirectoryReadFailure      = &Error{Code: CodeDirectoryReadFailure}
	ErrUnsatisfiableClusterSizes = &Error{Code: CodeUnsatisfiableClusterSizes}
	ErrInternalInvariant         = &Error{Code: CodeInternalInvariant}
	ErrAlreadyComputed           = &Error{Code: CodeAlreadyComputed}
	ErrLockHeld                  = &Error{Code: CodeLockHeld}
	ErrRunFailed                 = &Error{Code: CodeRunFailed}
)

// Error is a classified run error.
type Error struct {
	Code         Code
	Msg          string
	Participants []string
	Err          error
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Code))
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if len(e.Participants) > 0 {
		fmt.Fprintf(&sb, " (participants: %s)", strings.Join(e.Participants, ", "))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Retryable reports whether err is an external-dependency failure.
func Retryable(err error) bool {
	return CodeOf(err).Class() == ClassExternal
}
