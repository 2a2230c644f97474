package account

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// DeviceLinkScheme is the URI scheme of device link targets.
const DeviceLinkScheme = "tsdevice"

// DeviceLink identifies a device waiting to be linked: its provisioning
// address and the public key provisioning messages are sealed to.
type DeviceLink struct {
	UUID      string
	PublicKey [KeySize]byte
}

// URI renders the link as tsdevice:/?uuid=...&pub_key=...
func (d DeviceLink) URI() string {
	query := url.Values{}
	query.Set("uuid", d.UUID)
	query.Set("pub_key", base64.RawURLEncoding.EncodeToString(d.PublicKey[:]))
	return DeviceLinkScheme + ":/?" + query.Encode()
}

// ParseDeviceLink parses a tsdevice: URI into a DeviceLink.
func ParseDeviceLink(raw string) (DeviceLink, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DeviceLink{}, &DeviceLinkURIError{URI: raw, Reason: "empty uri"}
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return DeviceLink{}, &DeviceLinkURIError{URI: raw, Reason: err.Error()}
	}
	if u.Scheme != DeviceLinkScheme {
		return DeviceLink{}, &DeviceLinkURIError{URI: raw, Reason: "scheme must be " + DeviceLinkScheme}
	}
	query := u.Query()
	id := query.Get("uuid")
	if _, err := uuid.Parse(id); err != nil {
		return DeviceLink{}, &DeviceLinkURIError{URI: raw, Reason: "missing or invalid uuid"}
	}
	key, err := decodeKey(query.Get("pub_key"))
	if err != nil {
		return DeviceLink{}, &DeviceLinkURIError{URI: raw, Reason: "missing or invalid pub_key"}
	}
	link := DeviceLink{UUID: id}
	copy(link.PublicKey[:], key)
	return link, nil
}

// decodeKey accepts the key with or without padding, url-safe or standard.
func decodeKey(value string) ([]byte, error) {
	value = strings.TrimRight(strings.TrimSpace(value), "=")
	value = strings.NewReplacer("+", "-", "/", "_", " ", "-").Replace(value)
	key, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		return nil, base64.CorruptInputError(len(key))
	}
	return key, nil
}
