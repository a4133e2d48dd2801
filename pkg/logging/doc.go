// Package logging provides structured, subsystem-tagged logging for
// deskauth, built on the standard slog package.
//
// Log entries carry a timestamp, a level, a subsystem identifier and a
// formatted message. Initialize once at startup:
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Grant", "built authorization URL for client %s", clientID)
//	logging.Debug("Callback", "conn %s: request line %q", id, line)
//	logging.Error("Store", err, "failed to persist token")
//
// Subsystems used across the library: Grant, Token, Callback, Store,
// CLI.
//
// Credential material never reaches the logger: token, verifier and state
// values live in secret.Secret, whose formatter implementations emit
// "[REDACTED]".
package logging
