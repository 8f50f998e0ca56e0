package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Iron-Ham/tether/internal/event"
)

// Step operations.
const (
	OpSession     = "session"     // register a host session (directory, runner)
	OpExternal    = "external"    // register an attachable external session
	OpSubscribe   = "subscribe"   // feed a session's events with a platform hint
	OpOutput      = "output"      // agent output
	OpPermission  = "permission"  // permission or question request
	OpState       = "state"       // session state change
	OpError       = "error"       // agent error
	OpExit        = "exit"        // agent process exited
	OpReply       = "reply"       // human reply in a session's thread
	OpCommand     = "command"     // human command
	OpAdvance     = "advance"     // move the clock forward
	OpUnsubscribe = "unsubscribe" // remove the session
)

// Step is one line of a replay script.
type Step struct {
	Op string `json:"op"`

	Session  string `json:"session,omitempty"`
	Platform string `json:"platform,omitempty"`
	Thread   string `json:"thread,omitempty"`

	// output
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// permission
	RequestID string         `json:"request_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Input     map[string]any `json:"input,omitempty"`

	// state, error, exit
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
	History bool   `json:"history,omitempty"`

	// reply, command
	Actor string `json:"actor,omitempty"`
	Name  string `json:"name,omitempty"`
	Args  string `json:"args,omitempty"`

	// session, external
	Dir        string           `json:"dir,omitempty"`
	Runner     string           `json:"runner,omitempty"`
	Adapter    string           `json:"adapter,omitempty"`
	Summary    string           `json:"summary,omitempty"`
	Transcript []TranscriptLine `json:"transcript,omitempty"`

	// advance
	Ms int `json:"ms,omitempty"`

	// Line is the script line the step was read from.
	Line int `json:"-"`
}

// TranscriptLine is one message of an external session's history.
type TranscriptLine struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

// Duration returns the clock advance of an advance step.
func (s Step) Duration() time.Duration {
	return time.Duration(s.Ms) * time.Millisecond
}

// Event converts an agent-side step into the store event it simulates.
// It reports false for steps that are not events.
func (s Step) Event() (event.SessionEvent, bool) {
	var e event.SessionEvent
	switch s.Op {
	case OpOutput:
		e = event.NewOutputEvent(s.Session, s.Text, s.Final)
	case OpPermission:
		e = event.NewPermissionRequestEvent(s.Session, s.RequestID, s.Tool, s.Input)
	case OpState:
		e = event.NewSessionStateEvent(s.Session, strings.ToUpper(s.State))
	case OpError:
		e = event.NewErrorEvent(s.Session, s.Message)
	case OpExit:
		e = event.NewExitEvent(s.Session, s.Code)
	default:
		return nil, false
	}
	if s.History {
		e = event.AsHistory(e)
	}
	return e, true
}

func (s Step) validate() error {
	need := func(field, value string) error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s step requires %q", s.Op, field)
		}
		return nil
	}

	switch s.Op {
	case OpSession, OpSubscribe, OpOutput, OpState, OpError, OpExit, OpUnsubscribe:
		if err := need("session", s.Session); err != nil {
			return err
		}
		if s.Op == OpState {
			return need("state", s.State)
		}
		return nil
	case OpPermission:
		if err := need("session", s.Session); err != nil {
			return err
		}
		if err := need("request_id", s.RequestID); err != nil {
			return err
		}
		return need("tool", s.Tool)
	case OpExternal:
		return need("session", s.Session)
	case OpReply:
		if s.Session == "" && s.Thread == "" {
			return fmt.Errorf("reply step requires \"session\" or \"thread\"")
		}
		return nil
	case OpCommand:
		return need("name", s.Name)
	case OpAdvance:
		if s.Ms <= 0 {
			return fmt.Errorf("advance step requires a positive \"ms\"")
		}
		return nil
	case "":
		return fmt.Errorf("missing \"op\"")
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

// ParseScript reads a JSONL script. Blank lines and lines starting with #
// are skipped. Errors name the offending line.
func ParseScript(r io.Reader) ([]Step, error) {
	var steps []Step
	scanner := bufio.NewScanner(r)

	// Increase buffer size for long transcripts
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var s Step
		dec := json.NewDecoder(strings.NewReader(line))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		s.Op = strings.ToLower(s.Op)
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		s.Line = lineNo
		steps = append(steps, s)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading script: %w", err)
	}
	return steps, nil
}
