package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/util"
)

// Limits for the history replayed into a freshly attached thread.
const (
	replayMessageLimit  = 10
	replayContentLimit  = 800
	replayThinkingLimit = 400
	replayTotalLimit    = 3000
)

// Command names. Adapters strip their invocation prefix ("/" or "!")
// before calling HandleCommand.
const (
	CmdHelp   = "help"
	CmdStatus = "status"
	CmdList   = "list"
	CmdAttach = "attach"
	CmdNew    = "new"
	CmdStop   = "stop"
	CmdUsage  = "usage"
)

var commandAliases = map[string]string{
	CmdHelp:    CmdHelp,
	"start":    CmdHelp,
	CmdStatus:  CmdStatus,
	"sessions": CmdStatus,
	CmdList:    CmdList,
	CmdAttach:  CmdAttach,
	CmdNew:     CmdNew,
	CmdStop:    CmdStop,
	CmdUsage:   CmdUsage,
}

// normalizeCommand lower-cases a command name and drops a leading "/" or
// "!". It returns "" for names that are not commands.
func normalizeCommand(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimLeft(name, "/!")
	return commandAliases[name]
}

// commandLine reports whether text is a command: a lone known command word,
// or a known command prefixed with / or ! followed by arguments.
func commandLine(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	word, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		word, rest = text[:i], strings.TrimSpace(text[i:])
	}
	hasArgs := rest != ""
	name = normalizeCommand(word)
	if name == "" {
		return "", "", false
	}
	if hasArgs && !strings.ContainsAny(word[:1], "/!") {
		return "", "", false
	}
	return name, rest, true
}

// externalView is the result of the last list command in a thread.
type externalView struct {
	sessions []ExternalSession
	query    string
	cursor   string
	page     int
}

// HandleCommand runs a command issued in a thread. Replies go to that
// thread. Commands whose host callback is missing reply that they are not
// available. An unknown name is answered with a help hint and returns an
// *errors.UnknownCommandError.
func (c *Core) HandleCommand(ctx context.Context, threadID, name, args string) error {
	cmd := normalizeCommand(name)
	args = strings.TrimSpace(args)
	c.logger.Debug("command", "thread_id", threadID, "command", name, "args", args)

	switch cmd {
	case CmdHelp:
		return c.send(ctx, threadID, helpText)
	case CmdStatus:
		return c.cmdStatus(ctx, threadID)
	case CmdList:
		return c.cmdList(ctx, threadID, args)
	case CmdAttach:
		return c.cmdAttach(ctx, threadID, args)
	case CmdNew:
		return c.cmdNew(ctx, threadID, args)
	case CmdStop:
		return c.cmdStop(ctx, threadID)
	case CmdUsage:
		return c.cmdUsage(ctx, threadID)
	}

	err := errors.NewUnknownCommandError(name)
	c.reply(ctx, threadID, fmt.Sprintf("Unknown command: %s. Use help to see available commands.", name))
	return err
}

func (c *Core) unavailable(ctx context.Context, threadID, cmd string) error {
	return c.send(ctx, threadID, fmt.Sprintf("The %s command is not available.", cmd))
}

func (c *Core) cmdStatus(ctx context.Context, threadID string) error {
	if c.cb.ListSessions == nil {
		return c.unavailable(ctx, threadID, CmdStatus)
	}
	sessions, err := c.cb.ListSessions(ctx)
	if err != nil {
		c.reply(ctx, threadID, "Failed to fetch sessions.")
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return c.send(ctx, threadID, "No sessions.")
	}

	lines := []string{"Sessions:"}
	for _, s := range sessions {
		emoji, ok := sessionStateEmoji[strings.ToUpper(s.State)]
		if !ok {
			emoji = "❓"
		}
		name := s.Name
		if name == "" {
			name = truncateRunes(s.ID, 12)
		}
		line := fmt.Sprintf("  %s %s", emoji, name)
		if s.Directory != "" {
			line += " (" + filepath.Base(s.Directory) + ")"
		}
		lines = append(lines, line)
	}
	return c.send(ctx, threadID, strings.Join(lines, "\n"))
}

func (c *Core) cmdList(ctx context.Context, threadID, args string) error {
	if c.cb.ListExternalSessions == nil {
		return c.unavailable(ctx, threadID, CmdList)
	}

	c.mu.Lock()
	view := c.views[threadID]
	c.mu.Unlock()

	page := 1
	query := ""
	cursor := ""
	refetch := true
	switch {
	case args == "":
	case strings.EqualFold(args, "next"):
		if view == nil || view.cursor == "" {
			return c.send(ctx, threadID, "No more sessions. Run list to start over.")
		}
		cursor = view.cursor
		query = view.query
	default:
		if n, err := strconv.Atoi(strings.Fields(args)[0]); err == nil {
			page = n
			if view != nil {
				query = view.query
				refetch = false
			}
		} else {
			query = args
		}
	}

	if refetch {
		fetched, err := c.cb.ListExternalSessions(ctx, cursor)
		if err != nil {
			c.reply(ctx, threadID, "Failed to list external sessions.")
			return fmt.Errorf("list external sessions: %w", err)
		}
		view = &externalView{
			sessions: filterExternal(fetched.Sessions, query),
			query:    query,
			cursor:   fetched.NextCursor,
		}
	}
	view.page = page

	c.mu.Lock()
	c.views[threadID] = view
	c.mu.Unlock()

	return c.send(ctx, threadID, c.formatExternalPage(view))
}

func filterExternal(sessions []ExternalSession, query string) []ExternalSession {
	if query == "" {
		return sessions
	}
	q := strings.ToLower(query)
	var out []ExternalSession
	for _, s := range sessions {
		if strings.Contains(strings.ToLower(s.Directory), q) ||
			strings.Contains(strings.ToLower(s.Summary), q) {
			out = append(out, s)
		}
	}
	return out
}

func (c *Core) formatExternalPage(v *externalView) string {
	if len(v.sessions) == 0 {
		if v.query != "" {
			return fmt.Sprintf("No external sessions match %q.", v.query)
		}
		return "No external sessions found."
	}

	size := c.cfg.ExternalPageSize
	pages := (len(v.sessions) + size - 1) / size
	page := min(max(v.page, 1), pages)
	v.page = page
	start := (page - 1) * size
	end := min(start+size, len(v.sessions))

	var b strings.Builder
	fmt.Fprintf(&b, "External sessions (page %d/%d):", page, pages)
	if v.query != "" {
		fmt.Fprintf(&b, " matching %q", v.query)
	}
	for i := start; i < end; i++ {
		s := v.sessions[i]
		runner := RunnerDisplayName(s.RunnerType)
		if runner == "" {
			runner = s.RunnerType
		}
		fmt.Fprintf(&b, "\n%d. %s · %s", i+1, runner, dirLabel(s.Directory))
		if s.Summary != "" {
			b.WriteString(": " + util.TruncateString(strings.TrimSpace(s.Summary), 60))
		}
	}
	b.WriteString("\n\nUse attach <number> to attach.")
	if page < pages {
		fmt.Fprintf(&b, " list %d shows more.", page+1)
	} else if v.cursor != "" {
		b.WriteString(" list next fetches more.")
	}
	return b.String()
}

func (c *Core) cmdAttach(ctx context.Context, threadID, args string) error {
	if c.cb.AttachExternal == nil {
		return c.unavailable(ctx, threadID, CmdAttach)
	}
	if args == "" {
		return c.send(ctx, threadID, "Usage: attach <number>\n\nRun list first.")
	}
	n, err := strconv.Atoi(strings.Fields(args)[0])
	if err != nil {
		return c.send(ctx, threadID, "Please provide a session number.")
	}

	c.mu.Lock()
	view := c.views[threadID]
	c.mu.Unlock()
	if view == nil || len(view.sessions) == 0 {
		return c.send(ctx, threadID, "No external sessions listed. Run list first.")
	}
	if n < 1 || n > len(view.sessions) {
		return c.send(ctx, threadID, fmt.Sprintf("Invalid number. Use 1-%d.", len(view.sessions)))
	}
	ext := view.sessions[n-1]

	sessionID, err := c.cb.AttachExternal(ctx, ext)
	if err != nil {
		c.reply(ctx, threadID, "Failed to attach: "+c.userMessage(err))
		return fmt.Errorf("attach external session %s: %w", ext.ID, err)
	}
	if _, bound := c.ThreadFor(sessionID); bound {
		return c.send(ctx, threadID, "Already attached, check the existing thread.")
	}

	base := FormatThreadName(ext.Directory, ext.RunnerType, "", c.cfg.ThreadNameMaxLen)
	newThread, err := c.openThread(ctx, sessionID, base)
	if err != nil {
		c.reply(ctx, threadID, "Failed to attach: "+c.userMessage(err))
		return err
	}

	if c.cb.GetExternalHistory != nil {
		history, err := c.cb.GetExternalHistory(ctx, ext.ID, replayMessageLimit)
		if err != nil {
			c.logger.Warn("fetch external history failed", "session_id", sessionID, "external_id", ext.ID, "error", err)
		} else if replay := formatReplay(history); replay != "" {
			c.reply(ctx, newThread, replay)
		}
	}

	runner := RunnerDisplayName(ext.RunnerType)
	if runner == "" {
		runner = ext.RunnerType
	}
	c.logger.Info("attached external session", "session_id", sessionID, "external_id", ext.ID, "thread_id", newThread)
	return c.send(ctx, threadID, fmt.Sprintf(
		"✅ Attached to %s session in %s\n\nA new thread has been created. Send messages there to interact.",
		runner, filepath.Base(ext.Directory)))
}

// formatReplay renders recent history for an attached thread, or "".
func formatReplay(msgs []HistoryMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	if len(msgs) > replayMessageLimit {
		msgs = msgs[len(msgs)-replayMessageLimit:]
	}
	lines := []string{fmt.Sprintf("Recent history (last %d messages):\n", len(msgs))}
	for i, m := range msgs {
		role := strings.ToLower(m.Role)
		prefix := strings.ToUpper(truncateRunes(role, 1))
		switch role {
		case "user":
			prefix = "👤"
		case "assistant":
			prefix = "🤖"
		case "":
			prefix = "?"
		}
		if content := strings.TrimSpace(m.Content); content != "" {
			lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, prefix, util.TruncateString(content, replayContentLimit)))
		}
		if thinking := strings.TrimSpace(m.Thinking); thinking != "" {
			lines = append(lines, fmt.Sprintf("   %s (thinking): %s", prefix, util.TruncateString(thinking, replayThinkingLimit)))
		}
	}
	return util.TruncateString(strings.Join(lines, "\n"), replayTotalLimit)
}

const newUsage = "Usage: new <agent> <directory>\nOr, inside a session thread: new or new <agent>"

func (c *Core) cmdNew(ctx context.Context, threadID, args string) error {
	if c.cb.CreateSession == nil {
		return c.unavailable(ctx, threadID, CmdNew)
	}

	var baseDir, baseAdapter string
	if sessionID, ok := c.SessionForThread(threadID); ok && c.cb.GetSessionInfo != nil {
		if info, ok := c.cb.GetSessionInfo(sessionID); ok {
			baseDir, baseAdapter = info.Directory, info.Adapter
		}
	}

	adapter, dirArg, usage := parseNewArgs(strings.Fields(args), baseDir, baseAdapter)
	if usage != "" {
		return c.send(ctx, threadID, usage)
	}

	directory := dirArg
	if !filepath.IsAbs(directory) && baseDir != "" && !strings.HasPrefix(directory, "~") {
		directory = filepath.Join(baseDir, directory)
	}
	if c.cb.CheckDirectory != nil {
		check, err := c.cb.CheckDirectory(ctx, directory)
		if err != nil {
			c.reply(ctx, threadID, "Invalid directory: "+c.userMessage(err))
			return fmt.Errorf("check directory %s: %w", directory, err)
		}
		if !check.Exists {
			return c.send(ctx, threadID, "Directory not found: "+directory)
		}
		if check.Path != "" {
			directory = check.Path
		}
	}
	if adapter == "" {
		adapter = c.cfg.DefaultAdapter
	}

	sessionID, err := c.cb.CreateSession(ctx, NewSessionRequest{
		Adapter:   adapter,
		Directory: directory,
		Platform:  c.transport.Platform(),
	})
	if err != nil {
		c.reply(ctx, threadID, "Failed to create session: "+c.userMessage(err))
		return fmt.Errorf("create session: %w", err)
	}

	label := adapterLabel(adapter)
	if label == "" {
		label = "Claude"
	}
	c.logger.Info("session created", "session_id", sessionID, "adapter", adapter, "directory", directory)
	return c.send(ctx, threadID, fmt.Sprintf("✅ New %s session created in %s.", label, dirLabel(directory)))
}

// parseNewArgs resolves "new [agent] [directory]". Inside a session thread
// the session's directory and adapter are the defaults. A non-empty usage
// string means the arguments were rejected.
func parseNewArgs(parts []string, baseDir, baseAdapter string) (adapter, directory, usage string) {
	switch len(parts) {
	case 0:
		if baseDir == "" {
			return "", "", newUsage
		}
		return baseAdapter, baseDir, ""
	case 1:
		token := parts[0]
		maybe := agentToAdapter(token)
		if baseDir != "" {
			if maybe != "" {
				return maybe, baseDir, ""
			}
			return baseAdapter, token, ""
		}
		if maybe != "" {
			return "", "", "Usage: new <agent> <directory>"
		}
		return "", token, ""
	default:
		adapter = agentToAdapter(parts[0])
		if adapter == "" {
			return "", "", "Unknown agent. Use: claude, codex, pi, litellm, opencode, claude_auto, claude_subprocess, claude_api, codex_sdk_sidecar"
		}
		return adapter, strings.Join(parts[1:], " "), ""
	}
}

func (c *Core) sessionForCommand(ctx context.Context, threadID string) (string, bool) {
	sessionID, ok := c.SessionForThread(threadID)
	if !ok {
		c.reply(ctx, threadID, "Use this command inside a session thread.")
	}
	return sessionID, ok
}

func (c *Core) cmdStop(ctx context.Context, threadID string) error {
	if c.cb.StopSession == nil {
		return c.unavailable(ctx, threadID, CmdStop)
	}
	sessionID, ok := c.sessionForCommand(ctx, threadID)
	if !ok {
		return nil
	}
	if err := c.cb.StopSession(ctx, sessionID); err != nil {
		c.reply(ctx, threadID, "Failed to interrupt: "+c.userMessage(err))
		return fmt.Errorf("stop session %s: %w", sessionID, err)
	}
	return c.send(ctx, threadID, "⏹️ Session interrupted.")
}

func (c *Core) cmdUsage(ctx context.Context, threadID string) error {
	if c.cb.GetUsage == nil {
		return c.unavailable(ctx, threadID, CmdUsage)
	}
	sessionID, ok := c.sessionForCommand(ctx, threadID)
	if !ok {
		return nil
	}
	u, err := c.cb.GetUsage(ctx, sessionID)
	if err != nil {
		c.reply(ctx, threadID, "Failed to get usage: "+c.userMessage(err))
		return fmt.Errorf("get usage for %s: %w", sessionID, err)
	}
	return c.send(ctx, threadID, fmt.Sprintf("📊 Tokens: %d in / %d out · Cost: $%.4f", u.InputTokens, u.OutputTokens, u.CostUSD))
}
