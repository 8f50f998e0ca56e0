// Package event provides the pub-sub bus between an agent session store and
// the bridge subscriber.
//
// A store publishes session events without knowing which chat platforms are
// attached; the subscriber consumes them without knowing how the store is
// implemented.
//
// # Session Events
//
//   - [OutputEvent]: agent output, streamed (Final=false) or end-of-turn (Final=true)
//   - [PermissionRequestEvent]: the agent asks to run a tool
//   - [SessionStateEvent]: RUNNING, AWAITING_INPUT, ERROR, ...
//   - [ErrorEvent]: an agent-side error message
//   - [ExitEvent]: the agent process exited
//
// All of them implement [SessionEvent]. Events flagged as history are
// replays of past activity and are ignored by the bridge.
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers are called synchronously on the
// publishing goroutine and a panicking handler does not prevent the others
// from running.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	bus.Subscribe(event.TypeExit, func(e event.Event) {
//	    exit := e.(event.ExitEvent)
//	    log.Printf("session %s exited with %d", exit.SessionID, exit.ExitCode)
//	})
//	bus.Publish(event.NewExitEvent("sess-1", 0))
package event
