// Command courier is the CLI and daemon entry point for the courier account
// service.
//
// `courier start` launches the daemon in the background; `courier daemon`
// runs it in the foreground. The remaining commands are thin clients that
// send one request over the control socket and render the response as a
// table or, with --json, as the raw payload.
package main
