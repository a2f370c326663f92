// Package logging provides structured logging for Homeflow.
//
// It wraps log/slog so every package logs the same way: JSON in
// production, text during development, with service and version fields on
// every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("rule fired", "rule_id", id)
//	engineLog := logger.Component("engine")
//
// Never log guardian tokens or broker credentials.
package logging
