package commands

import (
	"errors"
	"fmt"

	"courier/internal/account"
	"courier/internal/protocol"
	"courier/internal/registry"
)

// Failure is a workflow error together with the envelope reported to the client.
type Failure struct {
	Type    string
	Code    int
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil && f.Err.Error() != f.Message {
		return fmt.Sprintf("%s: %v", f.Message, f.Err)
	}
	return f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

// Response renders the failure as an envelope answering req.
func (f *Failure) Response(req *protocol.Request) protocol.Response {
	kind := f.Type
	if kind == "" {
		kind = protocol.TypeError
	}
	return protocol.Failure(req, kind, f.Code, f.Message)
}

func preconditionFailure(message string) *Failure {
	return &Failure{Type: protocol.TypeError, Code: protocol.CodePreconditionFailed, Message: message}
}

func requestFailure(err error) *Failure {
	return &Failure{Type: protocol.TypeError, Code: protocol.CodeRequestFailed, Message: err.Error(), Err: err}
}

// asFailure classifies any workflow error.
func asFailure(err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	switch {
	case errors.Is(err, registry.ErrAccountNotFound):
		return &Failure{Type: protocol.TypeError, Code: protocol.CodeAccountNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, account.ErrNoIdentity):
		return &Failure{Type: protocol.TypeError, Code: protocol.CodePreconditionFailed, Message: protocol.MessageMustRegister, Err: err}
	case errors.Is(err, account.ErrAlreadyVerified):
		return &Failure{Type: protocol.TypeError, Code: protocol.CodePreconditionFailed, Message: protocol.MessageAlreadyVerified, Err: err}
	case errors.Is(err, account.ErrNotRegistered):
		return &Failure{Type: protocol.TypeError, Code: protocol.CodePreconditionFailed, Message: err.Error(), Err: err}
	}
	return requestFailure(err)
}

// linkFailure maps FinishDeviceLink and handshake errors to linking_error codes.
func linkFailure(err error) *Failure {
	var exists *account.UserExistsError
	switch {
	case errors.Is(err, account.ErrLinkTimeout):
		return &Failure{Type: protocol.TypeLinkingError, Code: protocol.CodeLinkTimeout, Message: protocol.MessageLinkTimedOut, Err: err}
	case errors.As(err, &exists):
		return &Failure{Type: protocol.TypeLinkingError, Code: protocol.CodeLinkAccountExists, Message: exists.Error(), Err: err}
	default:
		return &Failure{Type: protocol.TypeLinkingError, Code: protocol.CodeLinkIO, Message: err.Error(), Err: err}
	}
}
