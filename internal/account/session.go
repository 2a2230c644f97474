package account

import (
	"context"
	"net/url"
)

// State is the lifecycle position of an account.
type State string

const (
	StateNoIdentity          State = "no-identity"
	StateIdentityCreated     State = "identity-created"
	StateRegistrationPending State = "registration-pending"
	StateVerified            State = "verified"
)

// Summary is the public view of an account returned to clients. Fields are
// never omitted; an unlinked account reports a null deviceId.
type Summary struct {
	Username   string `json:"username"`
	DeviceID   *int   `json:"deviceId"`
	Filename   string `json:"filename"`
	Registered bool   `json:"registered"`
	HasKeys    bool   `json:"hasKeys"`
	State      State  `json:"state"`
}

// Session is one account's identity and service session.
type Session interface {
	Username() string
	HasIdentity() bool
	CreateIdentity() error
	IsRegistered() bool
	Register(ctx context.Context, voice bool) error
	Verify(ctx context.Context, code string) error
	DeviceLinkURI(ctx context.Context) (*url.URL, error)
	FinishDeviceLink(ctx context.Context, deviceName string) error
	AddDeviceLink(ctx context.Context, target DeviceLink) error
	Send(ctx context.Context, body string, attachments []string, recipient string) (int64, error)
	Exists() bool
	Init() error
	Summary() Summary
}
