// Package attest signs integrity verification results so a stored or
// published summary can later be shown to come from this service unaltered.
//
// Root keys are never used directly: each signature uses an HKDF-derived key
// bound to a purpose string, so rotating or scoping one purpose never exposes
// another.
package attest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Keyring stores root HMAC keys and the active key id.
type Keyring struct {
	keys        map[string][]byte
	activeKeyID string
}

// Signature is a detached HMAC over a digest.
type Signature struct {
	KeyID string `json:"keyId"`
	Value string `json:"value"`
}

// NewKeyring constructs a keyring for signing and verification.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("hmac keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active hmac key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active hmac key id is not configured")
	}
	for id, key := range keys {
		if len(key) < 32 {
			return nil, fmt.Errorf("hmac key %q must be at least 32 bytes", id)
		}
	}
	return &Keyring{keys: keys, activeKeyID: activeKeyID}, nil
}

// ParseKeys decodes "id:hex,id:hex" into a key map.
func ParseKeys(raw string) (map[string][]byte, error) {
	keys := make(map[string][]byte)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, hexKey, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("malformed key entry %q", pair)
		}
		key, err := hex.DecodeString(strings.TrimSpace(hexKey))
		if err != nil {
			return nil, fmt.Errorf("decode key %q: %w", id, err)
		}
		keys[strings.TrimSpace(id)] = key
	}
	return keys, nil
}

// ActiveKeyID returns the configured signing key id.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

// Sign signs digest for purpose with the active key.
func (k *Keyring) Sign(purpose, digest string) (Signature, error) {
	if k == nil {
		return Signature{}, fmt.Errorf("hmac keyring is not configured")
	}
	key, err := deriveKey(k.keys[k.activeKeyID], purpose)
	if err != nil {
		return Signature{}, err
	}
	return Signature{KeyID: k.activeKeyID, Value: hmacSHA256Hex(key, digest)}, nil
}

// Verify checks sig against digest for purpose. Retired keys still verify
// as long as they remain in the ring.
func (k *Keyring) Verify(purpose, digest string, sig Signature) error {
	if k == nil {
		return fmt.Errorf("hmac keyring is not configured")
	}
	rootKey, ok := k.keys[strings.TrimSpace(sig.KeyID)]
	if !ok {
		return fmt.Errorf("signature key id is unknown")
	}
	key, err := deriveKey(rootKey, purpose)
	if err != nil {
		return err
	}
	expected := hmacSHA256Hex(key, digest)
	if !hmac.Equal([]byte(expected), []byte(sig.Value)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func deriveKey(rootKey []byte, purpose string) ([]byte, error) {
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return nil, fmt.Errorf("signing purpose is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, rootKey, nil, []byte("covenant:"+purpose)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func hmacSHA256Hex(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
