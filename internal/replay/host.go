package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Iron-Ham/tether/internal/approval"
	"github.com/Iron-Ham/tether/internal/bridge"
	"github.com/Iron-Ham/tether/internal/binding"
	"github.com/Iron-Ham/tether/internal/util"
)

// Host is a scripted stand-in for the agent host. It answers the bridge's
// callbacks from what the script registered and records every call.
type Host struct {
	mu        sync.Mutex
	sessions  map[string]*hostSession
	order     []string
	externals []bridge.ExternalSession
	history   map[string][]bridge.HistoryMessage
	calls     []string
	created   int

	onCall  func(string)
	onBound func(sessionID, platform string)
}

type hostSession struct {
	info     bridge.SessionInfo
	state    string
	platform string
}

func newHost(onCall func(string)) *Host {
	return &Host{
		sessions: make(map[string]*hostSession),
		history:  make(map[string][]bridge.HistoryMessage),
		onCall:   onCall,
	}
}

// Calls returns the recorded callback invocations in order.
func (h *Host) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *Host) record(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	h.mu.Lock()
	h.calls = append(h.calls, line)
	fn := h.onCall
	h.mu.Unlock()
	if fn != nil {
		fn(line)
	}
}

// AddSession registers a session the host runs.
func (h *Host) AddSession(id string, info bridge.SessionInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionLocked(id).info = info
}

func (h *Host) sessionLocked(id string) *hostSession {
	s, ok := h.sessions[id]
	if !ok {
		s = &hostSession{state: "running"}
		h.sessions[id] = s
		h.order = append(h.order, id)
	}
	return s
}

// SetState records a session state for the status command.
func (h *Host) SetState(id, state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionLocked(id).state = strings.ToLower(state)
}

// AddExternal registers an external session and its transcript.
func (h *Host) AddExternal(ext bridge.ExternalSession, transcript []bridge.HistoryMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.externals = append(h.externals, ext)
	h.history[ext.ID] = transcript
}

// Callbacks returns the capability surface handed to every bridge.
func (h *Host) Callbacks() bridge.Callbacks {
	return bridge.Callbacks{
		CreateSession:        h.createSession,
		SendInput:            h.sendInput,
		StopSession:          h.stopSession,
		RespondToPermission:  h.respondToPermission,
		ListSessions:         h.listSessions,
		GetUsage:             h.getUsage,
		CheckDirectory:       h.checkDirectory,
		ListExternalSessions: h.listExternalSessions,
		GetExternalHistory:   h.getExternalHistory,
		AttachExternal:       h.attachExternal,
		GetSessionDirectory:  h.sessionDirectory,
		GetSessionInfo:       h.sessionInfo,
		OnSessionBound:       h.sessionBound,
		PermissionCancelled:  h.permissionCancelled,
	}
}

func (h *Host) createSession(_ context.Context, req bridge.NewSessionRequest) (string, error) {
	h.mu.Lock()
	h.created++
	id := fmt.Sprintf("replay-%d", h.created)
	s := h.sessionLocked(id)
	s.info = bridge.SessionInfo{Directory: req.Directory, Adapter: req.Adapter}
	s.platform = req.Platform
	h.mu.Unlock()

	h.record("create_session %s adapter=%s dir=%s platform=%s", id, req.Adapter, req.Directory, req.Platform)
	return id, nil
}

func (h *Host) sendInput(_ context.Context, sessionID, text string) error {
	h.record("send_input %s %q", sessionID, util.TruncateString(text, 80))
	return nil
}

func (h *Host) stopSession(_ context.Context, sessionID string) error {
	h.mu.Lock()
	_, ok := h.sessions[sessionID]
	if ok {
		h.sessions[sessionID].state = "stopped"
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	h.record("stop_session %s", sessionID)
	return nil
}

func (h *Host) respondToPermission(_ context.Context, resp bridge.PermissionResponse) error {
	verdict := "deny"
	if resp.Allow {
		verdict = "allow"
	}
	line := fmt.Sprintf("respond %s %s %s", resp.SessionID, resp.RequestID, verdict)
	if resp.Timer != "" {
		line += " timer=" + resp.Timer
	}
	if resp.Reason != "" {
		line += fmt.Sprintf(" reason=%q", resp.Reason)
	}
	if resp.Actor != "" {
		line += " actor=" + resp.Actor
	}
	h.record("%s", line)
	return nil
}

func (h *Host) listSessions(context.Context) ([]bridge.SessionSummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]bridge.SessionSummary, 0, len(h.order))
	for _, id := range h.order {
		s := h.sessions[id]
		out = append(out, bridge.SessionSummary{
			ID:        id,
			Name:      filepath.Base(s.info.Directory),
			Directory: s.info.Directory,
			State:     s.state,
			Platform:  s.platform,
		})
	}
	return out, nil
}

func (h *Host) getUsage(_ context.Context, sessionID string) (bridge.Usage, error) {
	h.record("get_usage %s", sessionID)
	return bridge.Usage{}, nil
}

func (h *Host) checkDirectory(_ context.Context, path string) (bridge.DirectoryCheck, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return bridge.DirectoryCheck{}, err
	}
	check := bridge.DirectoryCheck{Path: abs}
	if fi, err := os.Stat(abs); err == nil && fi.IsDir() {
		check.Exists = true
		if _, err := os.Stat(filepath.Join(abs, ".git")); err == nil {
			check.IsGitRepo = true
		}
	}
	return check, nil
}

func (h *Host) listExternalSessions(_ context.Context, cursor string) (bridge.ExternalPage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cursor != "" {
		return bridge.ExternalPage{}, nil
	}
	return bridge.ExternalPage{Sessions: append([]bridge.ExternalSession(nil), h.externals...)}, nil
}

func (h *Host) getExternalHistory(_ context.Context, externalID string, limit int) ([]bridge.HistoryMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.history[externalID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]bridge.HistoryMessage(nil), msgs...), nil
}

func (h *Host) attachExternal(_ context.Context, ext bridge.ExternalSession) (string, error) {
	id := "ext-" + ext.ID
	h.mu.Lock()
	h.sessionLocked(id).info = bridge.SessionInfo{Directory: ext.Directory, RunnerType: ext.RunnerType}
	h.mu.Unlock()
	h.record("attach_external %s as %s", ext.ID, id)
	return id, nil
}

func (h *Host) sessionDirectory(sessionID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		return s.info.Directory
	}
	return ""
}

func (h *Host) sessionInfo(sessionID string) (bridge.SessionInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return bridge.SessionInfo{}, false
	}
	return s.info, true
}

func (h *Host) sessionBound(_ context.Context, sessionID string, thread binding.Thread) {
	h.mu.Lock()
	h.sessionLocked(sessionID).platform = thread.Platform
	fn := h.onBound
	h.mu.Unlock()

	h.record("bound %s %s:%s", sessionID, thread.Platform, thread.ID)
	if fn != nil {
		fn(sessionID, thread.Platform)
	}
}

func (h *Host) permissionCancelled(_ context.Context, req approval.Request) {
	h.record("permission_cancelled %s %s", req.SessionID, req.ID)
}
