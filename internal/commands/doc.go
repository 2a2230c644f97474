// Package commands implements the request workflows behind the control
// socket: list_accounts, send, register, verify, link, add_device and
// daemon_status.
//
// Dispatcher.Dispatch is the failure boundary. Workflows return a *Failure
// describing the envelope the client should see; Dispatch writes it, echoes
// the request id, recovers panics and journals the outcome. No workflow error
// escapes to the connection handler as anything other than a value.
package commands
