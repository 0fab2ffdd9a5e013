// Package logging provides structured logging for LoxBridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected to miniserver", "host", host)
//	logger.Error("stream closed", "error", err)
//
// # Security
//
// Never log tokens, passwords, or HMAC keys. Log lengths or presence
// flags instead.
package logging
