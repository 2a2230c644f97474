package account

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length of curve25519 public and private keys.
const KeySize = curve25519.ScalarSize

// IdentityKeyPair is an account's long-term curve25519 key pair.
type IdentityKeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateIdentity creates a key pair from r (crypto/rand when nil).
func GenerateIdentity(r io.Reader) (*IdentityKeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	var pair IdentityKeyPair
	if _, err := io.ReadFull(r, pair.Private[:]); err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	pub, err := curve25519.X25519(pair.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive identity public key: %w", err)
	}
	copy(pair.Public[:], pub)
	return &pair, nil
}

func identityFromBytes(public, private []byte) (*IdentityKeyPair, error) {
	if len(public) != KeySize || len(private) != KeySize {
		return nil, fmt.Errorf("identity key: want %d bytes, got public=%d private=%d", KeySize, len(public), len(private))
	}
	var pair IdentityKeyPair
	copy(pair.Public[:], public)
	copy(pair.Private[:], private)
	derived, err := curve25519.X25519(pair.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity key: %w", err)
	}
	if string(derived) != string(pair.Public[:]) {
		return nil, fmt.Errorf("identity key: public key does not match private key")
	}
	return &pair, nil
}

// PublicKeyString renders the public key as unpadded base64url.
func (k *IdentityKeyPair) PublicKeyString() string {
	return base64.RawURLEncoding.EncodeToString(k.Public[:])
}

// ProvisionMessage is what a primary device hands a newly linked device.
type ProvisionMessage struct {
	Number             string `json:"number"`
	ProvisioningCode   string `json:"provisioningCode"`
	IdentityKeyPublic  []byte `json:"identityKeyPublic"`
	IdentityKeyPrivate []byte `json:"identityKeyPrivate"`
}

// SealProvisionMessage encrypts msg to the recipient's public key.
func SealProvisionMessage(msg ProvisionMessage, recipient *[KeySize]byte) ([]byte, error) {
	plain, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode provision message: %w", err)
	}
	sealed, err := box.SealAnonymous(nil, plain, recipient, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal provision message: %w", err)
	}
	return sealed, nil
}

// OpenProvisionMessage decrypts a sealed provision message with keys.
func OpenProvisionMessage(sealed []byte, keys *IdentityKeyPair) (*ProvisionMessage, error) {
	plain, ok := box.OpenAnonymous(nil, sealed, &keys.Public, &keys.Private)
	if !ok {
		return nil, fmt.Errorf("open provision message: authentication failed")
	}
	var msg ProvisionMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		return nil, fmt.Errorf("decode provision message: %w", err)
	}
	return &msg, nil
}

func newRegistrationID(r io.Reader) (int, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("generate registration id: %w", err)
	}
	// 14-bit space, never zero
	return int(binary.BigEndian.Uint16(buf[:])&0x3fff) + 1, nil
}

func newPassword(r io.Reader) (string, error) {
	var buf [18]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
