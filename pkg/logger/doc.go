// Package logger provides the structured logging interface used across the
// crawler. It wraps zerolog with pretty console output by default, JSON output
// on request, and an optional log file.
//
// Basic Usage:
//
//	err := logger.Initialize(&config.LoggingConfig{Level: "info"})
//
//	logger.Info("crawler started")
//	logger.WithField("subject", "ABC").Info("crawl finished")
//
// Library packages take a Logger through their options and default to
// NewNopLogger, so they stay quiet unless the caller wires one in. Tests use
// NewTestLogger to assert on what was logged.
package logger
