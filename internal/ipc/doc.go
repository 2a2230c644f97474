// Package ipc serves the line-delimited JSON control protocol on a Unix
// domain socket and ships the matching client used by the CLI.
//
// Every accepted connection runs in its own goroutine and handles its
// requests one at a time, in arrival order. Blank lines are skipped and
// lines that fail to decode are logged and never answered, so one bad client
// write does not end the session. Account state is shared through the
// handler; the server itself holds nothing but the live connections.
package ipc
