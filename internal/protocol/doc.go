// Package protocol defines the line-delimited JSON envelopes exchanged on the
// control socket.
//
// Each request is one JSON object per line selecting a workflow through its
// "type" field; each response is a {type, data, id} envelope. Requests ignore
// unknown fields. Response payloads never drop null-valued fields, and the
// request id is echoed byte-for-byte.
package protocol
