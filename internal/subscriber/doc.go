// Package subscriber consumes session events from a store and hands them to
// the bridge manager.
//
// Each session gets its own worker goroutine and queue. A worker routes one
// event at a time and waits for the route call to return before taking the
// next, so a session's events reach its bridge in the order they were
// enqueued. Workers for different sessions run concurrently.
//
// Streaming output arrives in many small chunks. Workers buffer non-final
// output and send it after Config.OutputFlushDelay or once the buffer holds
// Config.OutputFlushMaxChars. Every other event sends the buffer first. The
// delayed flush is queued on the session's own worker, so it can never
// overtake an event that arrived before it.
//
// # Basic Usage
//
//	sub := subscriber.New(mgr, subscriber.WithConfig(cfg))
//	defer sub.Close()
//
//	if err := sub.Attach(bus); err != nil {
//	    return err
//	}
//	_ = sub.Subscribe(sessionID, "slack")
//
// Enqueue never blocks, so it is safe to call from event.Bus handlers,
// which run inline with Publish.
package subscriber
