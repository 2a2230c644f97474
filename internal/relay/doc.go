// Package relay is the HTTP and websocket client for the remote messaging
// service. It implements account.Service.
//
// REST calls authenticate with basic auth (username, or username.deviceId for
// linked devices, and the account password). Device linking opens a
// websocket provisioning channel: the service first announces the channel's
// address, then forwards the sealed provision message from the primary device.
package relay
