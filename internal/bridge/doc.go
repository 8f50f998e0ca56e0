// Package bridge is the platform-agnostic orchestration engine between agent
// sessions and a chat platform.
//
// A [Core] binds each session to a chat thread, creating the thread on the
// first event that needs one, and decides what the human sees:
//
//   - Output is posted to the session's thread, split to the transport's
//     message size.
//   - Permission requests are resolved immediately when an auto-approve
//     rule covers them (the notification is batched), or else wait in an
//     approval gate while the human is prompted.
//   - Error notifications are debounced per session.
//   - On exit, pending notifications are flushed and pending requests are
//     cancelled. The thread stays bound unless configured otherwise.
//
// Human replies flow back through [Core.HandleHumanReply], [Core.HandleDecision],
// [Core.HandleChoice] and [Core.HandleCommand], which parse the reply, set
// auto-approve rules and call into the host through [Callbacks].
//
// Platform adapters implement the narrow [Transport] interface and may add
// [PromptSender], [TypingIndicator] and [MessageLimiter]. Everything else is
// shared, so each adapter stays thin.
//
// Lifecycle:
//
//	core := bridge.New(transport, callbacks,
//	    bridge.WithConfig(cfg),
//	    bridge.WithPersister(store),
//	    bridge.WithLogger(logger),
//	)
//	core.Start(ctx)   // loads persisted bindings
//	// ... route events with core.HandleEvent or a manager ...
//	core.Stop()       // cancels batch flushes and typing refreshes
package bridge
