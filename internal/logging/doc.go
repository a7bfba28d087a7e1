// Package logging builds the structured slog loggers used by rosac.
//
// Every record carries the emitting module and the collector version so that
// log lines from concurrent fleet runs can be told apart. Output goes to
// stderr; stdout is reserved for run summaries.
//
// Levels are parsed case-insensitively from the --log-level flag or the
// ROSAC_LOG_LEVEL environment variable: debug, info (default), warn, error.
// Debug loggers include source locations.
package logging
