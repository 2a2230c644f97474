package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Response types written by the daemon.
const (
	TypeAccountList           = "account_list"
	TypeVerificationRequired  = "verification_required"
	TypeVerificationSucceeded = "verification_succeeded"
	TypeLinkingURI            = "linking_uri"
	TypeLinkingSuccessful     = "linking_successful"
	TypeLinkingError          = "linking_error"
	TypeDeviceAdded           = "device_added"
	TypeMessageSent           = "message_sent"
	TypeDaemonStatusReply     = "daemon_status"
	TypeUnsupportedCommand    = "unsupported_command"
	TypeError                 = "error"
)

// Status codes carried in Status payloads.
const (
	CodeLinkTimeout        = 1
	CodeLinkIO             = 2
	CodeLinkAccountExists  = 3
	CodeDeviceAdded        = 4
	CodeUnsupportedCommand = 10
	CodePreconditionFailed = 11
	CodeRequestFailed      = 12
	CodeAccountNotFound    = 13
)

// Fixed status messages.
const (
	MessageDeviceAdded     = "Successfully linked device"
	MessageLinkTimedOut    = "Timed out while waiting for device to link"
	MessageMustRegister    = "must register first"
	MessageAlreadyVerified = "already verified"
	MessageAccountNotFound = "account not found"
	MessageInternalFailure = "internal error while handling request"
)

// Response is one envelope written back to a client.
type Response struct {
	Type string          `json:"type"`
	Data any             `json:"data"`
	ID   json.RawMessage `json:"id,omitempty"`
}

// Status is the generic {code, message, error} payload.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   bool   `json:"error"`
}

// LinkingURI is the payload of a linking_uri envelope.
type LinkingURI struct {
	URI string `json:"uri"`
}

// MessageSent is the payload of a message_sent envelope.
type MessageSent struct {
	Username  string `json:"username"`
	Recipient string `json:"recipientNumber"`
	Timestamp int64  `json:"timestamp"`
}

// Reply builds a response echoing the id of req.
func Reply(req *Request, kind string, data any) Response {
	resp := Response{Type: kind, Data: data}
	if req != nil && len(req.ID) > 0 {
		resp.ID = append(json.RawMessage(nil), req.ID...)
	}
	return resp
}

// Failure builds an error-flagged status response echoing the id of req.
func Failure(req *Request, kind string, code int, message string) Response {
	return Reply(req, kind, Status{Code: code, Message: message, Error: true})
}

// DecodeResponse parses a response line. Data is left as raw JSON; use
// DecodeData to unpack it.
func DecodeResponse(line []byte) (*Response, error) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
		ID   json.RawMessage `json:"id,omitempty"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if envelope.Type == "" {
		return nil, ErrMissingType
	}
	return &Response{Type: envelope.Type, Data: envelope.Data, ID: envelope.ID}, nil
}

// DecodeData unmarshals the payload of a decoded response into v.
func (r *Response) DecodeData(v any) error {
	var raw []byte
	switch data := r.Data.(type) {
	case json.RawMessage:
		raw = data
	case nil:
		raw = []byte("null")
	default:
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", r.Type, err)
		}
		raw = encoded
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", r.Type, err)
	}
	return nil
}

// IsFailure reports whether the response carries an error-flagged status.
func (r *Response) IsFailure() bool {
	switch r.Type {
	case TypeError, TypeLinkingError, TypeUnsupportedCommand:
		return true
	}
	return false
}

// Encoder writes responses as single lines. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes resp followed by a newline in a single write.
func (e *Encoder) Encode(resp Response) error {
	data, err := MarshalResponse(resp)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// MarshalResponse renders resp as one newline-terminated line.
func MarshalResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response %s: %w", resp.Type, err)
	}
	return append(data, '\n'), nil
}
