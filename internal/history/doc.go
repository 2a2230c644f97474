// Package history journals the outcome of every handled workflow in SQLite.
//
// The daemon records one event per request (registrations, verifications,
// links, sends, device additions, failures). The CLI reads the same database
// directly, so history is available while the daemon is stopped. Writes
// retry on SQLITE_BUSY because the CLI may hold a read transaction.
package history
