// Package logging assembles structured slog loggers and formatting helpers used
// across courier.
//
// It owns the console and JSON handlers, the fan-out used to tee daemon logs
// into a file, and context helpers that tag records with connection and
// request identifiers. A no-op logger is provided for tests and wiring code
// that cannot fail.
package logging
