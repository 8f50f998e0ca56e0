// Package logging provides structured logging for the tether bridge.
//
// This package wraps log/slog to emit JSON lines. Every component of the
// bridge logs through a child [Logger] carrying the identifiers that make
// a line filterable after the fact: the agent session, the chat platform
// and the thread.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/tether", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithPlatform("slack").WithSession("sess-1").Info("thread created", "thread_id", "C123")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"thread created","platform":"slack","session_id":"sess-1","thread_id":"C123"}
//
// # Log Rotation
//
// [RotatingWriter] rotates tether.log once it exceeds MaxSizeMB. Backups are
// named tether.log.1 (newest) through tether.log.N and are optionally gzip
// compressed.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a
// bytes.Buffer to assert on emitted lines.
package logging
