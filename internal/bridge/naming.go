package bridge

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Iron-Ham/tether/internal/util"
)

// runnerDisplayNames maps runner types to the label used in thread names.
var runnerDisplayNames = map[string]string{
	"claude-subprocess": "Claude",
	"claude-local":      "Claude",
	"claude":            "Claude",
	"codex":             "Codex",
	"pi":                "Pi",
	"litellm":           "LiteLLM",
	"opencode":          "OpenCode",
}

// adapterRunners maps session adapters to their runner type.
var adapterRunners = map[string]string{
	"claude_auto":       "claude",
	"claude_subprocess": "claude",
	"codex_sdk_sidecar": "codex",
	"litellm":           "litellm",
	"pi_rpc":            "pi",
	"opencode":          "opencode",
}

// agentAdapters maps the agent names accepted by the new command to
// adapters. Adapter names map to themselves.
var agentAdapters = map[string]string{
	"claude":            "claude_auto",
	"codex":             "codex_sdk_sidecar",
	"pi":                "pi_rpc",
	"litellm":           "litellm",
	"opencode":          "opencode",
	"claude_auto":       "claude_auto",
	"claude_subprocess": "claude_subprocess",
	"claude_api":        "claude_api",
	"codex_sdk_sidecar": "codex_sdk_sidecar",
	"pi_rpc":            "pi_rpc",
}

// AdapterToRunner maps an adapter name to a runner type, or "".
func AdapterToRunner(adapter string) string { return adapterRunners[adapter] }

// RunnerDisplayName returns the human-friendly runner name, or "".
func RunnerDisplayName(runnerType string) string { return runnerDisplayNames[runnerType] }

func agentToAdapter(agent string) string { return agentAdapters[strings.ToLower(agent)] }

// adapterLabel is the display name of an adapter's runner.
func adapterLabel(adapter string) string {
	return RunnerDisplayName(AdapterToRunner(adapter))
}

// dirLabel is the capitalized last path element, or "Session".
func dirLabel(directory string) string {
	d := strings.TrimRight(directory, "/")
	if d == "" {
		return "Session"
	}
	return util.Capitalize(filepath.Base(d))
}

// FormatThreadName builds "Runner / Dir" from a session's directory and
// runner, truncated to maxLen runes. The runner type wins over the adapter.
func FormatThreadName(directory, runnerType, adapter string, maxLen int) string {
	rt := runnerType
	if rt == "" {
		rt = AdapterToRunner(adapter)
	}
	name := dirLabel(directory)
	if label := RunnerDisplayName(rt); label != "" {
		name = label + " / " + name
	}
	return truncateRunes(name, maxLen)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (c *Core) baseThreadName(sessionID string) string {
	if c.cb.GetSessionInfo != nil {
		if info, ok := c.cb.GetSessionInfo(sessionID); ok {
			return FormatThreadName(info.Directory, info.RunnerType, info.Adapter, c.cfg.ThreadNameMaxLen)
		}
	}
	if c.cb.GetSessionDirectory != nil {
		if dir := c.cb.GetSessionDirectory(sessionID); dir != "" {
			return FormatThreadName(dir, "", "", c.cfg.ThreadNameMaxLen)
		}
	}
	return "Session"
}

// nameAllocator hands out unique thread names per platform.
type nameAllocator struct {
	mu     sync.Mutex
	maxLen int
	names  map[string]string // session ID → name
	used   map[string]int    // name → reservations
}

func newNameAllocator(maxLen int) *nameAllocator {
	return &nameAllocator{
		maxLen: maxLen,
		names:  make(map[string]string),
		used:   make(map[string]int),
	}
}

// pickLocked returns base, or base with a " 2" … " 99" suffix if base is taken.
// If every suffix is taken base is returned as is.
func (a *nameAllocator) pickLocked(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "Session"
	}
	base = truncateRunes(base, a.maxLen)
	if a.used[base] == 0 {
		return base
	}
	for i := 2; i < 100; i++ {
		suffix := fmt.Sprintf(" %d", i)
		avail := max(1, a.maxLen-len(suffix))
		candidate := truncateRunes(truncateRunes(base, avail)+suffix, a.maxLen)
		if a.used[candidate] == 0 {
			return candidate
		}
	}
	return base
}

// reserve picks a unique name for a session and marks it used. A session
// that already holds a name keeps it.
func (a *nameAllocator) reserve(sessionID, base string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if name, ok := a.names[sessionID]; ok {
		return name
	}
	name := a.pickLocked(base)
	a.names[sessionID] = name
	a.used[name]++
	return name
}

// release frees the session's name.
func (a *nameAllocator) release(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name, ok := a.names[sessionID]
	if !ok {
		return
	}
	delete(a.names, sessionID)
	if a.used[name]--; a.used[name] <= 0 {
		delete(a.used, name)
	}
}

// nameFor returns the name reserved for a session.
func (a *nameAllocator) nameFor(sessionID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.names[sessionID]
	return name, ok
}

// ThreadName returns the name given to a session's thread, if this Core
// created it.
func (c *Core) ThreadName(sessionID string) (string, bool) {
	return c.names.nameFor(sessionID)
}
