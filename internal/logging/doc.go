// Package logging provides structured logging for warren.
//
// It wraps log/slog with a JSON handler and adds persistent context
// attributes so that every line emitted on behalf of a session can be
// filtered by session_id after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/.warren/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("session created", "session_id", id)
//
// # Context Propagation
//
//	sessionLogger := logger.WithSession(id).WithComponent("agent")
//	sessionLogger.WithTool("write_file").Debug("tool finished", "duration_ms", 12)
//
// Output:
//
//	{"time":"...","level":"DEBUG","msg":"tool finished","session_id":"...","component":"agent","tool":"write_file","duration_ms":12}
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewLoggerWithWriter] with a
// bytes.Buffer to assert on emitted lines.
//
// # Configuration
//
//	logging:
//	  enabled: true
//	  level: info
//	  dir: ""   # defaults to <data dir>/logs
package logging
