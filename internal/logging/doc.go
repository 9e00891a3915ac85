// Package logging provides structured logging for provisiond.
//
// This package wraps a global zap logger with convenience functions. Each
// component asks for a named child logger once at construction time and logs
// through it:
//
//	log := logging.Named("dns")
//	log.Warn("Read failed", zap.Error(err))
//
// # Log Levels
//
//   - Debug: packet hex dumps, queried names, connection events
//   - Info: state transitions, server start/stop, submissions
//   - Warn: non-fatal socket errors, failed join attempts
//   - Error: fatal radio errors, startup failures
//
// The level comes from the config file, the --log-level flag, or the
// PROVISIOND_LOG_LEVEL environment variable ("off" silences everything).
//
// # Secrets
//
// Wi-Fi secrets never reach the log. Use Secret to record a length instead:
//
//	log.Info("Submission received", zap.String("ssid", c.SSID), logging.Secret("password", c.Password))
package logging
