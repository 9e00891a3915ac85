// Package ui renders the terminal output of the provisiond client
// commands (probe and scan).
//
// Output follows a "run once and exit" pattern: a header naming the
// command and its target, a list of checks as they complete, and a result
// box. Nothing here reads from the terminal.
//
// # Components
//
//   - Header: command banner with ordered parameters
//   - Checklist: one line per check with a pass or fail marker
//   - Result: success, failure or warning box
//
// # Logging Integration
//
// The client commands keep zap quiet unless PROVISIOND_LOG_LEVEL is set,
// so the styled output is not interleaved with log lines.
package ui
