package bridge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/tether/internal/approval"
	"github.com/Iron-Ham/tether/internal/util"
)

// defaultValueTruncate caps a single tool-input value in a prompt.
const defaultValueTruncate = 300

var acronyms = map[string]string{
	"id": "ID", "api": "API", "http": "HTTP", "https": "HTTPS", "url": "URL",
	"uri": "URI", "json": "JSON", "ui": "UI", "sql": "SQL", "ssh": "SSH",
	"ip": "IP", "pr": "PR", "cpu": "CPU",
}

// humanizeKey turns snake_case keys into sentence case with acronyms kept
// upper case ("file_path" → "File path", "session_id" → "Session ID").
// Keys without underscores are returned unchanged.
func humanizeKey(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	words := strings.Split(key, "_")
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if a, ok := acronyms[strings.ToLower(w)]; ok {
			out = append(out, a)
			continue
		}
		out = append(out, strings.ToLower(w))
	}
	if len(out) == 0 {
		return key
	}
	if _, isAcronym := acronyms[strings.ToLower(out[0])]; !isAcronym {
		out[0] = util.Capitalize(out[0])
	}
	return strings.Join(out, " ")
}

// humanizeEnum is humanizeKey for values. Paths and values containing
// spaces are returned unchanged.
func humanizeEnum(value string) string {
	if strings.ContainsAny(value, "/ ") {
		return value
	}
	return humanizeKey(value)
}

// formatToolInput renders a tool input as "Key: value" lines, one per key
// in sorted order. Long values are truncated to truncate runes.
func formatToolInput(input map[string]any, truncate int) string {
	if len(input) == 0 {
		return ""
	}
	if truncate <= 0 {
		truncate = defaultValueTruncate
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		var value string
		switch v := input[k].(type) {
		case string:
			value = humanizeEnum(v)
		case nil:
			value = "null"
		default:
			data, err := json.Marshal(v)
			if err != nil {
				value = fmt.Sprint(v)
			} else {
				value = string(data)
			}
		}
		lines = append(lines, humanizeKey(k)+": "+util.TruncateString(value, truncate))
	}
	return strings.Join(lines, "\n")
}

// formatToolInputText accepts a raw description: JSON objects are rendered
// with formatToolInput, anything else is truncated as plain text.
func formatToolInputText(text string, truncate int) string {
	var input map[string]any
	if err := json.Unmarshal([]byte(text), &input); err == nil {
		return formatToolInput(input, truncate)
	}
	if truncate <= 0 {
		truncate = defaultValueTruncate
	}
	return util.TruncateString(text, truncate)
}

func minutes(d time.Duration) string {
	return fmt.Sprintf("%dm", int(d.Round(time.Minute)/time.Minute))
}

// confirmationText is the thread message after a human decision.
func confirmationText(d approval.Decision, window time.Duration) string {
	if !d.Allow {
		if d.Reason != "" {
			return "Denied: " + d.Reason
		}
		return "Denied"
	}
	switch d.Timer {
	case "":
		return "Approved"
	case approval.TimerAll:
		return fmt.Sprintf("Allow All (%s)", minutes(window))
	case approval.TimerDir:
		return fmt.Sprintf("Allow dir (%s)", minutes(window))
	default:
		return fmt.Sprintf("Allow %s (%s)", d.Timer, minutes(window))
	}
}

// autoApproved is one auto-approve notification waiting in a batch.
type autoApproved struct {
	Tool  string
	Label string
}

// batchText renders a batch of auto-approve notifications.
func batchText(items []autoApproved) string {
	if len(items) == 1 {
		return fmt.Sprintf("✅ %s — auto-approved (%s)", items[0].Tool, items[0].Label)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Auto-approved %d tools:", len(items))
	labels := make([]string, 0, 1)
	seen := make(map[string]bool)
	for _, it := range items {
		b.WriteString("\n• " + it.Tool)
		if !seen[it.Label] {
			seen[it.Label] = true
			labels = append(labels, it.Label)
		}
	}
	fmt.Fprintf(&b, "\n(%s)", strings.Join(labels, ", "))
	return b.String()
}

var statusEmoji = map[string]string{
	"thinking":  "💭",
	"executing": "⚙️",
	"done":      "✅",
	"error":     "❌",
}

func statusText(status, message string) string {
	emoji, ok := statusEmoji[status]
	if !ok {
		emoji = "ℹ️"
	}
	text := fmt.Sprintf("%s Status: %s", emoji, status)
	if message != "" {
		text += "\n" + message
	}
	return text
}

var sessionStateEmoji = map[string]string{
	"RUNNING":        "🔄",
	"AWAITING_INPUT": "⏳",
	"ERROR":          "❌",
	"STOPPED":        "⏹",
	"EXITED":         "⏹",
}

// promptText renders a request for transports without interactive prompts.
func promptText(req approval.Request, truncate int) string {
	var b strings.Builder
	if req.Kind == approval.KindChoice {
		b.WriteString("❓ " + req.Title)
		if req.Description != "" {
			b.WriteString("\n" + req.Description)
		}
		fmt.Fprintf(&b, "\n\nReply with a number (1-%d) or an option label.", len(req.Options))
		return b.String()
	}

	b.WriteString("⚠️ Permission request: " + req.Title)
	body := formatToolInput(req.Input, truncate)
	if body == "" && req.Description != "" {
		body = formatToolInputText(req.Description, truncate)
	}
	if body != "" {
		b.WriteString("\n" + body)
	}
	fmt.Fprintf(&b, "\n\nReply: allow, deny [reason], allow all, allow %s, or allow dir", req.ToolName)
	return b.String()
}

// promptFor builds the interactive form of a request.
func promptFor(req approval.Request, truncate int) Prompt {
	p := Prompt{RequestID: req.ID, Kind: req.Kind, Title: req.Title}
	if req.Kind == approval.KindChoice {
		p.Body = req.Description
		p.Options = append([]string(nil), req.Options...)
		return p
	}
	p.Body = formatToolInput(req.Input, truncate)
	if p.Body == "" {
		p.Body = formatToolInputText(req.Description, truncate)
	}
	p.Options = []string{"Allow", "Deny", "Allow All", "Allow " + req.ToolName}
	return p
}

const helpText = `Commands:
help: show this message
status: list sessions and their state
list [page|query|next]: browse external sessions
attach <n>: attach to external session n from the last list
new [agent] [directory]: start a new session
stop: stop the session in this thread
usage: token usage of the session in this thread

In a session thread, reply allow / deny [reason] / allow all / allow <Tool> / allow dir to answer permission requests. Anything else is sent to the agent.`
