package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Request types understood by the daemon.
const (
	TypeListAccounts = "list_accounts"
	TypeSend         = "send"
	TypeRegister     = "register"
	TypeVerify       = "verify"
	TypeLink         = "link"
	TypeAddDevice    = "add_device"
	TypeDaemonStatus = "daemon_status"
)

var (
	// ErrMalformed marks a line that is not a JSON object.
	ErrMalformed = errors.New("malformed request")
	// ErrMissingType marks a request without a type.
	ErrMissingType = errors.New("request type is required")
)

// Request is one decoded command. Only Type is required; the remaining fields
// are used by specific workflows.
type Request struct {
	Type string `json:"type"`
	// ID is kept verbatim so the reply echoes exactly what the client sent.
	ID                  json.RawMessage `json:"id,omitempty"`
	Username            string          `json:"username,omitempty"`
	MessageBody         string          `json:"messageBody,omitempty"`
	AttachmentFilenames []string        `json:"attachmentFilenames,omitempty"`
	RecipientNumber     string          `json:"recipientNumber,omitempty"`
	Voice               *bool           `json:"voice,omitempty"`
	Code                string          `json:"code,omitempty"`
	URI                 string          `json:"uri,omitempty"`
	DeviceName          string          `json:"deviceName,omitempty"`
}

// Decode parses one protocol line into a Request.
func Decode(line []byte) (*Request, error) {
	trimmed := bytes.TrimSpace(line)
	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if strings.TrimSpace(req.Type) == "" {
		return nil, ErrMissingType
	}
	return &req, nil
}

// UseVoice reports the requested verification transport; absent means SMS.
func (r *Request) UseVoice() bool {
	return r.Voice != nil && *r.Voice
}

// IDString renders the request id for logs. String ids are unquoted.
func (r *Request) IDString() string {
	if len(r.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	return string(r.ID)
}

// StringID encodes id as a JSON string token for use in Request.ID.
func StringID(id string) json.RawMessage {
	if id == "" {
		return nil
	}
	raw, _ := json.Marshal(id)
	return raw
}

// Encode renders the request as a single protocol line.
func (r *Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return append(data, '\n'), nil
}
