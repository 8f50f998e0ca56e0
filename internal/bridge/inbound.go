package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/tether/internal/approval"
	"github.com/Iron-Ham/tether/internal/autoapprove"
	"github.com/Iron-Ham/tether/internal/errors"
)

const (
	noSessionHint      = "No session linked to this thread. Use help to see available commands."
	approvalRetryHint  = "Did not understand. Try: allow, deny [reason], allow all, allow <Tool>, allow dir"
	respondFailedReply = "❌ Failed. Request may have expired."
)

// HandleHumanReply handles a text message a human posted in a thread.
//
// With a request pending in the thread's session, the reply answers the
// oldest one; an unparseable answer is met with a hint and the request
// stays pending. Without one, a lone command word or a /- or !-prefixed
// command line runs the command and anything else is forwarded to the agent
// as input. Replies in threads
// with no session only accept commands.
func (c *Core) HandleHumanReply(ctx context.Context, threadID, text, actor string) error {
	sessionID, ok := c.SessionForThread(threadID)
	if !ok {
		if name, args, isCmd := commandLine(text); isCmd {
			return c.HandleCommand(ctx, threadID, name, args)
		}
		if err := c.send(ctx, threadID, noSessionHint); err != nil {
			c.logger.Warn("send hint failed", "thread_id", threadID, "error", err)
		}
		return fmt.Errorf("thread %s: %w", threadID, errors.ErrNoSessionForThread)
	}
	logger := c.logger.WithSession(sessionID).WithThread(threadID)

	if req, pending := c.gate.Pending(sessionID); pending {
		if req.Kind == approval.KindChoice {
			idx, err := approval.ParseChoice(text, req.Options)
			if err == nil {
				return c.resolveChoice(ctx, threadID, req, idx, actor)
			}
			if d, derr := approval.ParseApproval(text); derr == nil && !d.Allow {
				return c.resolveDecision(ctx, threadID, req, d, actor)
			}
			if name, args, isCmd := commandLine(text); isCmd {
				return c.HandleCommand(ctx, threadID, name, args)
			}
			logger.Debug("unparseable choice reply", "error", err)
			return c.send(ctx, threadID, fmt.Sprintf("Did not understand. Reply with a number (1-%d) or an option label.", len(req.Options)))
		}

		d, err := approval.ParseApproval(text)
		if err == nil {
			return c.resolveDecision(ctx, threadID, req, d, actor)
		}
		if name, args, isCmd := commandLine(text); isCmd {
			return c.HandleCommand(ctx, threadID, name, args)
		}
		logger.Debug("unparseable approval reply", "error", err)
		return c.send(ctx, threadID, approvalRetryHint)
	}

	if name, args, isCmd := commandLine(text); isCmd {
		return c.HandleCommand(ctx, threadID, name, args)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := c.cb.SendInput(ctx, sessionID, text); err != nil {
		logger.Warn("forward input failed", "error", err)
		if serr := c.send(ctx, threadID, "Failed to send input."); serr != nil {
			logger.Warn("send failure notice failed", "error", serr)
		}
		return fmt.Errorf("send input to session %s: %w", sessionID, err)
	}
	logger.Info("forwarded human input", "actor", actor)
	return nil
}

// HandleDecision applies a decision made through an interactive prompt.
func (c *Core) HandleDecision(ctx context.Context, requestID string, d approval.Decision, actor string) error {
	req, err := c.pendingRequest(requestID)
	if err != nil {
		return err
	}
	if req.Kind == approval.KindChoice && d.Allow {
		return fmt.Errorf("request %s needs a choice: %w", requestID, errors.ErrInvalidInput)
	}
	threadID, _ := c.ThreadFor(req.SessionID)
	return c.resolveDecision(ctx, threadID, req, d, actor)
}

// HandleChoice applies an option picked through an interactive prompt.
// index is 0-based.
func (c *Core) HandleChoice(ctx context.Context, requestID string, index int, actor string) error {
	req, err := c.pendingRequest(requestID)
	if err != nil {
		return err
	}
	if req.Kind != approval.KindChoice || index < 0 || index >= len(req.Options) {
		return fmt.Errorf("choice %d for request %s: %w", index, requestID, errors.ErrInvalidInput)
	}
	threadID, _ := c.ThreadFor(req.SessionID)
	return c.resolveChoice(ctx, threadID, req, index, actor)
}

func (c *Core) pendingRequest(requestID string) (approval.Request, error) {
	if req, ok := c.gate.Get(requestID); ok {
		return req, nil
	}
	if outcome, ok := c.gate.Outcome(requestID); ok {
		return approval.Request{}, fmt.Errorf("%w: %s (%s)", errors.ErrAlreadyResolved, requestID, outcome)
	}
	return approval.Request{}, fmt.Errorf("%w: %s", errors.ErrUnknownRequest, requestID)
}

// resolveDecision resolves req exactly once. The gate entry is claimed
// before the host is called, so a concurrent second answer fails with
// ErrAlreadyResolved and never reaches RespondToPermission. If the host
// call fails the request is reopened and no timer is set.
func (c *Core) resolveDecision(ctx context.Context, threadID string, req approval.Request, d approval.Decision, actor string) error {
	outcome := approval.OutcomeDenied
	if d.Allow {
		outcome = approval.OutcomeApproved
	}
	if _, err := c.gate.Resolve(req.ID, outcome); err != nil {
		return err
	}

	message := confirmationText(d, c.cfg.AutoApproveWindow)
	err := c.cb.RespondToPermission(ctx, PermissionResponse{
		SessionID: req.SessionID,
		RequestID: req.ID,
		Allow:     d.Allow,
		Reason:    d.Reason,
		Message:   message,
		Timer:     d.Timer,
		Actor:     actor,
	})
	if err != nil {
		c.gate.Reopen(req.ID)
		c.reply(ctx, threadID, respondFailedReply)
		return fmt.Errorf("respond to permission %s: %w", req.ID, err)
	}

	if d.Allow && d.Timer != "" {
		c.applyTimer(req, d.Timer)
	}
	c.metrics.ApprovalResolved(string(outcome))
	c.logger.Info("approval resolved",
		"session_id", req.SessionID,
		"request_id", req.ID,
		"outcome", string(outcome),
		"timer", d.Timer,
		"actor", actor,
	)

	emoji := "❌"
	if d.Allow {
		emoji = "✅"
	}
	c.reply(ctx, threadID, emoji+" "+message)
	return nil
}

func (c *Core) resolveChoice(ctx context.Context, threadID string, req approval.Request, index int, actor string) error {
	if _, err := c.gate.Resolve(req.ID, approval.OutcomeApproved); err != nil {
		return err
	}
	label := req.Options[index]
	err := c.cb.RespondToPermission(ctx, PermissionResponse{
		SessionID: req.SessionID,
		RequestID: req.ID,
		Allow:     true,
		Reason:    label,
		Message:   label,
		Actor:     actor,
	})
	if err != nil {
		c.gate.Reopen(req.ID)
		c.reply(ctx, threadID, respondFailedReply)
		return fmt.Errorf("respond to choice %s: %w", req.ID, err)
	}
	c.metrics.ApprovalResolved(string(approval.OutcomeApproved))
	c.reply(ctx, threadID, "✅ Selected: "+label)
	return nil
}

// applyTimer records the auto-approve window a human asked for. "dir"
// falls back to the whole session when its directory is unknown.
func (c *Core) applyTimer(req approval.Request, timer string) {
	var scope autoapprove.Scope
	switch timer {
	case approval.TimerAll:
		scope = autoapprove.SessionScope(req.SessionID)
	case approval.TimerDir:
		if dir := c.sessionDirectory(req.SessionID); dir != "" {
			scope = autoapprove.DirectoryScope(dir)
		} else {
			scope = autoapprove.SessionScope(req.SessionID)
		}
	default:
		scope = autoapprove.ToolScope(req.SessionID, timer)
	}
	expires := c.timers.Set(scope, c.cfg.AutoApproveWindow)
	c.logger.Info("auto-approve set",
		"session_id", req.SessionID,
		"scope", scope.Label(),
		"expires_at", expires,
	)
}

// reply posts a best-effort notice; failures are only logged.
func (c *Core) reply(ctx context.Context, threadID, text string) {
	if threadID == "" {
		return
	}
	if err := c.send(ctx, threadID, text); err != nil {
		c.logger.Warn("send reply failed", "thread_id", threadID, "error", err)
	}
}
