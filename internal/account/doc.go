// Package account owns one messaging account's identity and its session with
// the remote service.
//
// Session is the contract the command workflows consume. Manager is the
// concrete implementation: it keeps curve25519 identity keys, persists state
// as one JSON file per account under the data directory (guarded by a file
// lock), and talks to the remote service through the Service interface.
// Device linking seals provisioning messages with nacl/box to the public key
// carried in the tsdevice: URI.
//
// A Manager serializes its own operations; callers get single-operation
// atomicity and nothing more.
package account
