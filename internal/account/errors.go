package account

import (
	"errors"
	"fmt"
)

var (
	// ErrNoIdentity is returned by operations that need identity keys.
	ErrNoIdentity = errors.New("account has no identity keys")
	// ErrAlreadyVerified is returned when verifying a registered account.
	ErrAlreadyVerified = errors.New("account already verified")
	// ErrNotRegistered is returned by operations that need a verified account.
	ErrNotRegistered = errors.New("account is not registered")
	// ErrLinkTimeout is returned when the primary device never confirms a link.
	ErrLinkTimeout = errors.New("timed out waiting for device link")
	// ErrNoLinkInProgress is returned by FinishDeviceLink without a prior DeviceLinkURI.
	ErrNoLinkInProgress = errors.New("no device link in progress")
	// ErrInvalidUsername marks identifiers that are not E.164 phone numbers.
	ErrInvalidUsername = errors.New("invalid account identifier")
)

// UserExistsError reports that a linked account already has a file on disk.
type UserExistsError struct {
	Username string
	FileName string
}

func (e *UserExistsError) Error() string {
	return fmt.Sprintf("The user %s already exists. Delete %q and try again.", e.Username, e.FileName)
}

// AttachmentError reports an attachment path that cannot be sent.
type AttachmentError struct {
	Path string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("invalid attachment %q: %v", e.Path, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// DeviceLinkURIError reports a malformed device link URI.
type DeviceLinkURIError struct {
	URI    string
	Reason string
}

func (e *DeviceLinkURIError) Error() string {
	return fmt.Sprintf("invalid device link uri %q: %s", e.URI, e.Reason)
}
