// Package daemon coordinates the long-running courier process.
//
// It ties the account registry and the history journal into a single
// lifecycle guarded by a flock-based lock so only one daemon serves a state
// directory. The daemon preloads stored accounts on start and reports the
// status returned by daemon_status requests and the CLI status command.
//
// Socket handling lives in package ipc and request workflows in package
// commands; keep this package to startup, shutdown and status.
package daemon
