package approval

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes yes/no permission prompts from multiple-choice questions.
type Kind string

const (
	KindPermission Kind = "permission"
	KindChoice     Kind = "choice"
)

// questionToolPrefix marks tools that carry a structured question instead
// of a side effect.
const questionToolPrefix = "AskUserQuestion"

// Request is one pending decision an agent needs from the human.
type Request struct {
	ID        string
	SessionID string
	Kind      Kind
	ToolName  string
	// Title is the tool name for permission requests or the question header
	// for choice requests.
	Title       string
	Description string
	// Options holds the selectable labels of a choice request.
	Options   []string
	Input     map[string]any
	CreatedAt time.Time
}

// NewRequest builds a Request from a tool call. A tool named
// AskUserQuestion* whose input holds a non-empty "questions" list becomes a
// choice request built from the first question; anything else is a
// permission request whose description is the JSON-encoded input.
func NewRequest(sessionID, requestID, toolName string, input map[string]any, now time.Time) Request {
	if toolName == "" {
		toolName = "Permission request"
	}
	req := Request{
		ID:        requestID,
		SessionID: sessionID,
		Kind:      KindPermission,
		ToolName:  toolName,
		Title:     toolName,
		Input:     input,
		Options:   []string{"Allow", "Deny"},
		CreatedAt: now,
	}

	if q, ok := firstQuestion(toolName, input); ok {
		req.Kind = KindChoice
		req.Title, req.Description, req.Options = describeQuestion(q)
		return req
	}

	if len(input) > 0 {
		if data, err := json.Marshal(input); err == nil {
			req.Description = string(data)
		}
	}
	return req
}

func firstQuestion(toolName string, input map[string]any) (map[string]any, bool) {
	if !strings.HasPrefix(toolName, questionToolPrefix) {
		return nil, false
	}
	questions, ok := input["questions"].([]any)
	if !ok || len(questions) == 0 {
		return nil, false
	}
	q, ok := questions[0].(map[string]any)
	return q, ok
}

func describeQuestion(q map[string]any) (title, description string, labels []string) {
	title = stringField(q, "header")
	if title == "" {
		title = "Question"
	}

	var lines []string
	if question := stringField(q, "question"); question != "" {
		lines = append(lines, question)
	}
	opts, _ := q["options"].([]any)
	for i, raw := range opts {
		opt, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		label := stringField(opt, "label")
		if label == "" {
			continue
		}
		labels = append(labels, label)
		if desc := stringField(opt, "description"); desc != "" {
			lines = append(lines, fmt.Sprintf("%d. %s - %s", i+1, label, desc))
		} else {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, label))
		}
	}
	return title, strings.Join(lines, "\n"), labels
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
