package account

import "context"

// Credentials authenticate one device of an account against the service.
type Credentials struct {
	Username string
	Password string
	DeviceID int
}

// AccountAttributes are sent when verifying an account or finishing a link.
type AccountAttributes struct {
	RegistrationID  int    `json:"registrationId"`
	IdentityKey     string `json:"identityKey"`
	Name            string `json:"name,omitempty"`
	FetchesMessages bool   `json:"fetchesMessages"`
}

// Attachment is a file read from disk for an outgoing message.
type Attachment struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// OutgoingMessage is one message addressed to a recipient.
type OutgoingMessage struct {
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   int64        `json:"timestamp"`
}

// ProvisioningChannel is an open provisioning address on the service. The
// channel yields one sealed provision message.
type ProvisioningChannel interface {
	UUID() string
	Await(ctx context.Context) ([]byte, error)
	Close() error
}

// Service is the remote messaging service.
type Service interface {
	RequestCode(ctx context.Context, number string, voice bool) error
	VerifyAccount(ctx context.Context, creds Credentials, code string, attrs AccountAttributes) error
	SendMessage(ctx context.Context, creds Credentials, recipient string, msg OutgoingMessage) error
	NewDeviceCode(ctx context.Context, creds Credentials) (string, error)
	SendProvisioning(ctx context.Context, creds Credentials, destination string, sealed []byte) error
	OpenProvisioning(ctx context.Context) (ProvisioningChannel, error)
	FinishDevice(ctx context.Context, creds Credentials, code string, attrs AccountAttributes) (int, error)
}
