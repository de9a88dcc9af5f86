// Package logging provides structured logging utilities for the TeamUp MCP
// gateway.
//
// This package centralizes logging patterns to ensure consistent, structured
// logging throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - Sanitization of secrets (tokens are never logged directly)
//   - Session id anonymization for correlation without credential leakage
//   - Consistent attribute naming across the codebase
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithSession(slog.Default(), session.ID())
//	logger.Info("code exchanged",
//	    logging.Operation("oauth.exchange"),
//	    logging.Status(logging.StatusSuccess))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("session resolved",
//	    logging.SessionHash(session.ID))
package logging
