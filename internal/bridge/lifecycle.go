package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/tether/internal/approval"
	"github.com/Iron-Ham/tether/internal/autoapprove"
	"github.com/Iron-Ham/tether/internal/errors"
	"github.com/Iron-Ham/tether/internal/event"
)

// actorAutoApprove is the actor reported for timer-resolved requests.
const actorAutoApprove = "auto-approve"

// HandleEvent dispatches a store event to the matching lifecycle method.
// History events are ignored.
func (c *Core) HandleEvent(ctx context.Context, e event.SessionEvent) error {
	if e.IsHistory() {
		return nil
	}
	switch ev := e.(type) {
	case event.OutputEvent:
		return c.OnOutput(ctx, ev.SessionID, ev.Text, ev.Final)
	case event.PermissionRequestEvent:
		req := approval.NewRequest(ev.SessionID, ev.RequestID, ev.ToolName, ev.ToolInput, c.clock.Now())
		return c.OnApprovalRequest(ctx, req)
	case event.SessionStateEvent:
		return c.onState(ctx, ev.SessionID, ev.State)
	case event.ErrorEvent:
		return c.OnError(ctx, ev.SessionID, ev.Message)
	case event.ExitEvent:
		return c.OnSessionExit(ctx, ev.SessionID, ev.ExitCode)
	default:
		c.logger.Debug("ignoring event", "type", e.EventType(), "session_id", e.Session())
		return nil
	}
}

func (c *Core) onState(ctx context.Context, sessionID, state string) error {
	switch state {
	case event.StateRunning:
		return c.OnTyping(ctx, sessionID)
	case event.StateError:
		c.OnTypingStopped(sessionID)
		return c.OnStatusChange(ctx, sessionID, "error", "")
	default:
		c.OnTypingStopped(sessionID)
		return nil
	}
}

// OnOutput sends agent output to the session's thread, creating the thread
// on first use. Pending auto-approve notifications are sent first so the
// thread reads in order. Blank text is ignored.
func (c *Core) OnOutput(ctx context.Context, sessionID, text string, final bool) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.isExited(sessionID) {
		// Output after exit means the host resumed the session.
		c.setExited(sessionID, false)
	}

	threadID, err := c.ensureThread(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := c.flushBatch(ctx, sessionID); err != nil {
		c.logger.Warn("flush auto-approve batch failed", "session_id", sessionID, "error", err)
	}
	if err := c.send(ctx, threadID, text); err != nil {
		return err
	}
	if final {
		c.OnTypingStopped(sessionID)
	}
	return nil
}

// OnApprovalRequest handles a permission or choice request. If an active
// auto-approve rule covers it, the request is resolved at once and a
// notification is batched; otherwise it waits in the gate and the human is
// prompted.
func (c *Core) OnApprovalRequest(ctx context.Context, req approval.Request) error {
	logger := c.logger.WithSession(req.SessionID).With("request_id", req.ID, "tool", req.ToolName)

	if c.isExited(req.SessionID) {
		return fmt.Errorf("approval request %s: %w", req.ID, errors.ErrSessionExited)
	}
	if err := c.gate.Open(req); err != nil {
		return err
	}

	if req.Kind == approval.KindPermission {
		rule, ok := c.timers.Check(req.SessionID, req.ToolName, c.sessionDirectory(req.SessionID))
		if ok {
			err := c.autoApprove(ctx, req, rule)
			if err == nil {
				logger.Info("auto-approved", "rule", rule.Scope.Label())
				return nil
			}
			logger.Warn("auto-approve failed, prompting instead", "error", err)
			if perr := c.prompt(ctx, req); perr != nil {
				return errors.Join(err, perr)
			}
			return err
		}
	}

	if err := c.prompt(ctx, req); err != nil {
		return err
	}
	logger.Info("approval requested", "kind", string(req.Kind))
	return nil
}

func (c *Core) autoApprove(ctx context.Context, req approval.Request, rule autoapprove.Rule) error {
	if _, err := c.gate.Resolve(req.ID, approval.OutcomeAutoApproved); err != nil {
		return err
	}
	label := rule.Scope.Label()
	err := c.cb.RespondToPermission(ctx, PermissionResponse{
		SessionID: req.SessionID,
		RequestID: req.ID,
		Allow:     true,
		Message:   label,
		Actor:     actorAutoApprove,
	})
	if err != nil {
		c.gate.Reopen(req.ID)
		return fmt.Errorf("respond to permission %s: %w", req.ID, err)
	}
	c.metrics.ApprovalResolved(string(approval.OutcomeAutoApproved))
	// A directory timer can cover a session that has no thread yet.
	if _, err := c.ensureThread(ctx, req.SessionID); err != nil {
		c.logger.Warn("open thread for auto-approve notice failed",
			"session_id", req.SessionID, "request_id", req.ID, "error", err)
	}
	c.batcher.Add(req.SessionID, autoApproved{Tool: req.ToolName, Label: label})
	return nil
}

// prompt asks the human about a pending request.
func (c *Core) prompt(ctx context.Context, req approval.Request) error {
	threadID, err := c.ensureThread(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if err := c.flushBatch(ctx, req.SessionID); err != nil {
		c.logger.Warn("flush auto-approve batch failed", "session_id", req.SessionID, "error", err)
	}
	if ps, ok := c.transport.(PromptSender); ok {
		if err := ps.SendPrompt(ctx, threadID, promptFor(req, 0)); err != nil {
			return fmt.Errorf("send prompt to thread %s: %w", threadID, err)
		}
		return nil
	}
	return c.send(ctx, threadID, promptText(req, 0))
}

func (c *Core) sessionDirectory(sessionID string) string {
	if c.cb.GetSessionDirectory != nil {
		if dir := c.cb.GetSessionDirectory(sessionID); dir != "" {
			return dir
		}
	}
	if c.cb.GetSessionInfo != nil {
		if info, ok := c.cb.GetSessionInfo(sessionID); ok {
			return info.Directory
		}
	}
	return ""
}

// OnStatusChange posts a status line. The "error" status goes through the
// error debouncer, keyed by message, and opens a thread if needed; other
// statuses only reach an existing thread.
func (c *Core) OnStatusChange(ctx context.Context, sessionID, status, message string) error {
	if status == "error" {
		signature := message
		if signature == "" {
			signature = "error"
		}
		if !c.debouncer.ShouldNotify(sessionID, signature) {
			c.metrics.ErrorSuppressed()
			c.logger.Debug("error notification suppressed", "session_id", sessionID, "signature", signature)
			return nil
		}
		if _, err := c.ensureThread(ctx, sessionID); err != nil {
			return err
		}
	}

	if err := c.flushBatch(ctx, sessionID); err != nil {
		c.logger.Warn("flush auto-approve batch failed", "session_id", sessionID, "error", err)
	}
	return c.sendToSession(ctx, sessionID, statusText(status, message))
}

// OnError reports an agent error, subject to debouncing.
func (c *Core) OnError(ctx context.Context, sessionID, message string) error {
	return c.OnStatusChange(ctx, sessionID, "error", message)
}

// OnTyping shows the typing indicator in the session's thread and keeps it
// alive until OnTypingStopped or exit. It does nothing on transports
// without TypingIndicator or when the session has no thread.
func (c *Core) OnTyping(ctx context.Context, sessionID string) error {
	if c.isExited(sessionID) {
		c.setExited(sessionID, false)
	}
	ti, ok := c.transport.(TypingIndicator)
	if !ok {
		return nil
	}
	threadID, ok := c.ThreadFor(sessionID)
	if !ok {
		return nil
	}
	if err := ti.SendTyping(ctx, threadID); err != nil {
		return fmt.Errorf("send typing to thread %s: %w", threadID, err)
	}

	st := c.session(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.typing != nil {
		return nil
	}
	ticker := c.clock.NewTicker(c.cfg.TypingRefresh)
	done := make(chan struct{})
	st.typing = ticker
	st.typingDone = done
	base := c.ctx

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-done:
				return
			case <-base.Done():
				return
			case <-ticker.C:
				if err := ti.SendTyping(base, threadID); err != nil {
					c.logger.Debug("typing refresh failed", "session_id", sessionID, "error", err)
				}
			}
		}
	}()
	return nil
}

// OnTypingStopped cancels the typing refresh for a session.
func (c *Core) OnTypingStopped(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.sessions[sessionID]; ok {
		stopTypingLocked(st)
	}
}

func stopTypingLocked(st *sessionState) {
	if st.typing == nil {
		return
	}
	st.typing.Stop()
	close(st.typingDone)
	st.typing = nil
	st.typingDone = nil
}

// OnSessionExit ends a session: pending notifications are sent, pending
// requests are cancelled (neither approved nor denied), the session's
// timers and debounce state are cleared, and the thread is told. The thread
// stays bound unless UnbindOnExit is set.
func (c *Core) OnSessionExit(ctx context.Context, sessionID string, exitCode int) error {
	c.OnTypingStopped(sessionID)

	var errs []error
	if err := c.flushBatch(ctx, sessionID); err != nil {
		errs = append(errs, err)
	}
	cancelled := c.cancelPending(ctx, sessionID)
	c.timers.ClearSession(sessionID)
	c.debouncer.Forget(sessionID)
	c.setExited(sessionID, true)

	if _, bound := c.ThreadFor(sessionID); bound {
		text := fmt.Sprintf("🏁 Session exited (code %d)", exitCode)
		if n := len(cancelled); n > 0 {
			text += fmt.Sprintf("\n%d pending request(s) cancelled.", n)
		}
		if err := c.sendToSession(ctx, sessionID, text); err != nil {
			errs = append(errs, err)
		}
	}

	if c.cfg.UnbindOnExit {
		if err := c.unbind(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	c.logger.Info("session exited", "session_id", sessionID, "exit_code", exitCode, "cancelled", len(cancelled))
	return errors.Join(errs...)
}

func (c *Core) cancelPending(ctx context.Context, sessionID string) []approval.Request {
	cancelled := c.gate.CancelSession(sessionID)
	for _, req := range cancelled {
		c.metrics.ApprovalResolved(string(approval.OutcomeCancelled))
		if c.cb.PermissionCancelled != nil {
			c.cb.PermissionCancelled(ctx, req)
		}
	}
	return cancelled
}

func (c *Core) unbind(ctx context.Context, sessionID string) error {
	thread, ok, err := c.bindings.Unbind(ctx, sessionID)
	if err != nil {
		return err
	}
	c.names.release(sessionID)
	if ok {
		c.mu.Lock()
		delete(c.views, thread.ID)
		c.mu.Unlock()
	}
	return nil
}

// OnSessionRemoved forgets a session entirely: scheduled work is cancelled,
// pending requests are cancelled, and the thread binding and name are
// released.
func (c *Core) OnSessionRemoved(ctx context.Context, sessionID string) error {
	c.OnTypingStopped(sessionID)
	c.batcher.Cancel(sessionID)
	c.cancelPending(ctx, sessionID)
	c.gate.Forget(sessionID)
	c.timers.ClearSession(sessionID)
	c.debouncer.Forget(sessionID)

	err := c.unbind(ctx, sessionID)

	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	c.logger.Info("session removed", "session_id", sessionID)
	return err
}
