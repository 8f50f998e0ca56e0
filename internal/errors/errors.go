// Package errors provides the error taxonomy for the tether bridge engine:
// sentinel errors for errors.Is checks, typed errors that carry context for
// errors.As, and classification helpers that decide which errors may be
// shown to a chat user.
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewParseError("allow a b", "expected a single target")
//	err := errors.NewBindingConflictError("sess-1", thread, "sess-2")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrBindingConflict) { ... }
//
//	var conflict *errors.BindingConflictError
//	if errors.As(err, &conflict) { ... }
//
//	if errors.IsUserFacing(err) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Input sentinel errors
var (
	// ErrParse indicates that human reply text could not be understood.
	ErrParse = New("could not parse reply")
	// ErrUnknownCommand indicates a command name the bridge does not handle.
	ErrUnknownCommand = New("unknown command")
)

// Routing sentinel errors
var (
	// ErrBindingConflict indicates an attempt to bind a session to a thread
	// that is already bound to a different session.
	ErrBindingConflict = New("thread already bound to another session")
	// ErrNoBridgeForSession indicates that no registered bridge can serve a session.
	ErrNoBridgeForSession = New("no bridge for session")
	// ErrNoSessionForThread indicates a message arrived in a thread with no bound session.
	ErrNoSessionForThread = New("no session bound to thread")
	// ErrSessionExited indicates an operation on a session that has already exited.
	ErrSessionExited = New("session has exited")
)

// Approval sentinel errors
var (
	// ErrUnknownRequest indicates a permission request id the bridge never saw.
	ErrUnknownRequest = New("unknown approval request")
	// ErrAlreadyResolved indicates a second decision for a resolved request.
	ErrAlreadyResolved = New("approval request already resolved")
	// ErrDuplicateRequest indicates a permission request id that was reused.
	ErrDuplicateRequest = New("duplicate approval request id")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrStorage indicates that thread state could not be read or written.
	ErrStorage = New("thread state storage failed")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// TetherError is the base interface for typed bridge errors.
type TetherError interface {
	error

	Unwrap() error
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsUserFacing returns true if the error message is safe to post back
	// into a chat thread.
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) IsUserFacing() bool { return e.userFacing }

// -----------------------------------------------------------------------------
// Typed Errors
// -----------------------------------------------------------------------------

// ParseError reports reply text that is neither an approval nor a denial
// nor a valid choice.
type ParseError struct {
	baseError
	Input  string
	Reason string
}

// NewParseError creates a new ParseError.
func NewParseError(input, reason string) *ParseError {
	return &ParseError{
		baseError: baseError{
			message:    reason,
			cause:      ErrParse,
			severity:   SeverityInfo,
			userFacing: true,
		},
		Input:  input,
		Reason: reason,
	}
}

// Error returns the formatted error message.
func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %q: %s", e.Input, e.Reason)
}

// Thread identifies a chat thread on a platform. It mirrors binding.Thread
// so this package stays free of bridge imports.
type Thread struct {
	Platform string
	ID       string
}

func (t Thread) String() string { return t.Platform + ":" + t.ID }

// BindingConflictError reports an attempt to bind a thread that is already
// bound to another session.
//
// Example:
//
//	err := errors.NewBindingConflictError("sess-2", errors.Thread{Platform: "slack", ID: "T1"}, "sess-1")
//	fmt.Println(err) // "thread slack:T1 already bound to session sess-1 (wanted by sess-2)"
type BindingConflictError struct {
	baseError
	SessionID string
	Thread    Thread
	BoundTo   string
}

// NewBindingConflictError creates a new BindingConflictError.
func NewBindingConflictError(sessionID string, thread Thread, boundTo string) *BindingConflictError {
	return &BindingConflictError{
		baseError: baseError{
			message:  "binding conflict",
			cause:    ErrBindingConflict,
			severity: SeverityError,
		},
		SessionID: sessionID,
		Thread:    thread,
		BoundTo:   boundTo,
	}
}

// Error returns the formatted error message.
func (e *BindingConflictError) Error() string {
	return fmt.Sprintf("thread %s already bound to session %s (wanted by %s)", e.Thread, e.BoundTo, e.SessionID)
}

// NoBridgeError reports that neither a binding, a platform hint nor a
// default platform could route an event for a session.
type NoBridgeError struct {
	baseError
	SessionID    string
	PlatformHint string
}

// NewNoBridgeError creates a new NoBridgeError.
func NewNoBridgeError(sessionID, platformHint string) *NoBridgeError {
	return &NoBridgeError{
		baseError: baseError{
			message:  "no bridge",
			cause:    ErrNoBridgeForSession,
			severity: SeverityWarning,
		},
		SessionID:    sessionID,
		PlatformHint: platformHint,
	}
}

// Error returns the formatted error message.
func (e *NoBridgeError) Error() string {
	if e.PlatformHint != "" {
		return fmt.Sprintf("no bridge for session %s (platform hint %q)", e.SessionID, e.PlatformHint)
	}
	return fmt.Sprintf("no bridge for session %s", e.SessionID)
}

// UnknownCommandError reports a command name the bridge does not handle.
type UnknownCommandError struct {
	baseError
	Name string
}

// NewUnknownCommandError creates a new UnknownCommandError.
func NewUnknownCommandError(name string) *UnknownCommandError {
	return &UnknownCommandError{
		baseError: baseError{
			message:    "unknown command",
			cause:      ErrUnknownCommand,
			severity:   SeverityInfo,
			userFacing: true,
		},
		Name: name,
	}
}

// Error returns the formatted error message.
func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsUserFacing returns true if the error message is safe to post into a
// chat thread. Internal failures should be replaced by a generic message.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var te TetherError
	if As(err, &te) {
		return te.IsUserFacing()
	}
	return Is(err, ErrNoSessionForThread) || Is(err, ErrSessionExited)
}

// GetSeverity returns the severity level of the error.
// Untyped errors default to SeverityError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}
	var te TetherError
	if As(err, &te) {
		return te.Severity()
	}
	return SeverityError
}
