// Package event defines the agent-session events a session store emits and
// the bus that carries them to the bridge subscriber.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "session.output").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeOutput            = "session.output"
	TypePermissionRequest = "session.permission_request"
	TypeState             = "session.state"
	TypeError             = "session.error"
	TypeExit              = "session.exit"
)

// SessionEvent is an Event scoped to one agent session. Every event the
// subscriber consumes implements it.
type SessionEvent interface {
	Event

	// Session returns the agent session the event belongs to.
	Session() string

	// IsHistory reports whether the event replays past activity (for example
	// when a store re-emits a transcript) rather than describing something new.
	IsHistory() bool
}

// Session states reported by SessionStateEvent.
const (
	StateRunning       = "RUNNING"
	StateAwaitingInput = "AWAITING_INPUT"
	StateError         = "ERROR"
	StateIdle          = "IDLE"
	StateStopped       = "STOPPED"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// sessionBase carries the fields common to all session events.
type sessionBase struct {
	baseEvent
	SessionID string
	History   bool
}

func (e sessionBase) Session() string { return e.SessionID }
func (e sessionBase) IsHistory() bool { return e.History }

func newSessionBase(eventType, sessionID string) sessionBase {
	return sessionBase{baseEvent: newBaseEvent(eventType), SessionID: sessionID}
}

// OutputEvent carries agent output text. Final marks the last message of a
// turn; non-final output is streamed in steps.
type OutputEvent struct {
	sessionBase
	Text  string
	Final bool
}

// NewOutputEvent creates an OutputEvent.
func NewOutputEvent(sessionID, text string, final bool) OutputEvent {
	return OutputEvent{sessionBase: newSessionBase(TypeOutput, sessionID), Text: text, Final: final}
}

// PermissionRequestEvent is emitted when the agent needs permission to run a
// tool. RequestID is assigned by the host and never reused.
type PermissionRequestEvent struct {
	sessionBase
	RequestID string
	ToolName  string
	ToolInput map[string]any
}

// NewPermissionRequestEvent creates a PermissionRequestEvent.
func NewPermissionRequestEvent(sessionID, requestID, toolName string, input map[string]any) PermissionRequestEvent {
	return PermissionRequestEvent{
		sessionBase: newSessionBase(TypePermissionRequest, sessionID),
		RequestID:   requestID,
		ToolName:    toolName,
		ToolInput:   input,
	}
}

// SessionStateEvent reports a session state transition (see the State* constants).
type SessionStateEvent struct {
	sessionBase
	State string
}

// NewSessionStateEvent creates a SessionStateEvent.
func NewSessionStateEvent(sessionID, state string) SessionStateEvent {
	return SessionStateEvent{sessionBase: newSessionBase(TypeState, sessionID), State: state}
}

// ErrorEvent reports an agent-side error.
type ErrorEvent struct {
	sessionBase
	Message string
}

// NewErrorEvent creates an ErrorEvent.
func NewErrorEvent(sessionID, message string) ErrorEvent {
	return ErrorEvent{sessionBase: newSessionBase(TypeError, sessionID), Message: message}
}

// ExitEvent is emitted once when a session's agent process terminates.
type ExitEvent struct {
	sessionBase
	ExitCode int
}

// NewExitEvent creates an ExitEvent.
func NewExitEvent(sessionID string, exitCode int) ExitEvent {
	return ExitEvent{sessionBase: newSessionBase(TypeExit, sessionID), ExitCode: exitCode}
}

// AsHistory returns a copy of e flagged as replayed history.
func AsHistory(e SessionEvent) SessionEvent {
	switch v := e.(type) {
	case OutputEvent:
		v.History = true
		return v
	case PermissionRequestEvent:
		v.History = true
		return v
	case SessionStateEvent:
		v.History = true
		return v
	case ErrorEvent:
		v.History = true
		return v
	case ExitEvent:
		v.History = true
		return v
	default:
		return e
	}
}
