package bridge

import (
	"context"
	"time"

	"github.com/Iron-Ham/tether/internal/approval"
	"github.com/Iron-Ham/tether/internal/binding"
)

// Transport is the narrow capability a chat platform adapter provides.
// Adapters stay thin: everything above sending text lives in Core.
type Transport interface {
	// Platform returns the platform name ("slack", "discord", ...).
	Platform() string

	// CreateThread opens a new conversation for a session and returns its ID.
	CreateThread(ctx context.Context, sessionID, name string) (string, error)

	// Send posts text to a thread.
	Send(ctx context.Context, threadID, text string) error
}

// PromptSender is implemented by transports that can render a request as
// an interactive prompt (buttons). The adapter reports the human's pick
// back through Core.HandleDecision or Core.HandleChoice. Transports without
// it get a text prompt answered with a reply.
type PromptSender interface {
	SendPrompt(ctx context.Context, threadID string, prompt Prompt) error
}

// TypingIndicator is implemented by transports that can show a typing
// indicator. Core refreshes it periodically while the agent is running.
type TypingIndicator interface {
	SendTyping(ctx context.Context, threadID string) error
}

// MessageLimiter is implemented by transports with a per-message size cap.
type MessageLimiter interface {
	MaxMessageLen() int
}

// Prompt is a request rendered for a PromptSender.
type Prompt struct {
	RequestID string
	Kind      approval.Kind
	Title     string
	Body      string
	// Options are the button labels: Allow/Deny plus timer shortcuts for
	// permission prompts, the choice labels for choice prompts.
	Options []string
}

// NewSessionRequest asks the host to start a session.
type NewSessionRequest struct {
	Prompt         string
	ApprovalChoice string
	Adapter        string
	Directory      string
	Platform       string
}

// PermissionResponse carries a resolved permission request to the host.
type PermissionResponse struct {
	SessionID string
	RequestID string
	Allow     bool
	// Reason is the denial reason or the selected choice label.
	Reason string
	// Message is the human-readable confirmation shown in the thread.
	Message string
	// Timer is the auto-approve scope the human asked for, if any.
	Timer string
	Actor string
}

// SessionSummary is one row of the status command.
type SessionSummary struct {
	ID        string
	Name      string
	Directory string
	State     string
	Platform  string
}

// SessionInfo is what the host knows about a session for naming threads
// and defaulting the new command.
type SessionInfo struct {
	Directory  string
	Adapter    string
	RunnerType string
}

// Usage is the token and cost accounting of a session.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// DirectoryCheck is the host's verdict on a directory argument.
type DirectoryCheck struct {
	Path      string
	Exists    bool
	IsGitRepo bool
}

// ExternalSession is an agent session running outside this host that can be
// attached to.
type ExternalSession struct {
	ID         string
	RunnerType string
	Directory  string
	Summary    string
	UpdatedAt  time.Time
}

// ExternalPage is one page of external sessions. NextCursor is empty on the
// last page.
type ExternalPage struct {
	Sessions   []ExternalSession
	NextCursor string
}

// HistoryMessage is one message of an external session's transcript.
type HistoryMessage struct {
	Role     string
	Content  string
	Thinking string
}

// Callbacks is the host capability surface. RespondToPermission and
// SendInput are required; commands whose callback is nil reply that they
// are unavailable.
type Callbacks struct {
	CreateSession        func(ctx context.Context, req NewSessionRequest) (string, error)
	SendInput            func(ctx context.Context, sessionID, text string) error
	StopSession          func(ctx context.Context, sessionID string) error
	RespondToPermission  func(ctx context.Context, resp PermissionResponse) error
	ListSessions         func(ctx context.Context) ([]SessionSummary, error)
	GetUsage             func(ctx context.Context, sessionID string) (Usage, error)
	CheckDirectory       func(ctx context.Context, path string) (DirectoryCheck, error)
	ListExternalSessions func(ctx context.Context, cursor string) (ExternalPage, error)
	GetExternalHistory   func(ctx context.Context, externalID string, limit int) ([]HistoryMessage, error)
	AttachExternal       func(ctx context.Context, ext ExternalSession) (string, error)

	// GetSessionDirectory returns a session's working directory, or "".
	GetSessionDirectory func(sessionID string) string
	// GetSessionInfo returns naming and defaulting details for a session.
	GetSessionInfo func(sessionID string) (SessionInfo, bool)
	// OnSessionBound is told whenever a session gets a thread, so the host
	// can start feeding its events to the subscriber.
	OnSessionBound func(ctx context.Context, sessionID string, thread binding.Thread)
	// PermissionCancelled is told about requests dropped because their
	// session exited. Cancellation is neither approval nor denial.
	PermissionCancelled func(ctx context.Context, req approval.Request)
}

// Phase is the per-session state of the bridge.
type Phase int

const (
	PhaseNoThread Phase = iota
	PhaseThreadOpen
	PhaseApprovalPending
	PhaseExited
)

func (p Phase) String() string {
	switch p {
	case PhaseNoThread:
		return "no_thread"
	case PhaseThreadOpen:
		return "thread_open"
	case PhaseApprovalPending:
		return "approval_pending"
	case PhaseExited:
		return "exited"
	default:
		return "unknown"
	}
}
