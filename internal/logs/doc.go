// Package logs reads the daemon's JSON log file for `courier logs`.
//
// Reads are bounded: the last N lines come from a ring buffer, and follow mode
// polls from a byte offset until the context ends. Filter narrows records by
// level, connection or account using the field names from package logging.
package logs
