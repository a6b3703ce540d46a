// Package keychain stores the peer's private key in the system keychain
// (macOS Keychain, Linux Secret Service, Windows Credential Manager).
package keychain

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName is the keychain service identifier
	ServiceName = "meshchat"
	// AccountName is the keychain account identifier
	AccountName = "peer-key"
)

var (
	// ErrNotFound is returned when no key is stored in the keychain
	ErrNotFound = errors.New("peer key not found in keychain")
)

// StoreKey saves the marshalled private key to the system keychain.
// Keychains hold strings, so the key is base64 encoded.
func StoreKey(key []byte) error {
	return keyring.Set(ServiceName, AccountName, base64.StdEncoding.EncodeToString(key))
}

// GetKey retrieves the marshalled private key from the system keychain.
// Returns ErrNotFound if no key is stored.
func GetKey() ([]byte, error) {
	encoded, err := keyring.Get(ServiceName, AccountName)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode keychain entry: %w", err)
	}
	return key, nil
}

// DeleteKey removes the key from the system keychain.
func DeleteKey() error {
	err := keyring.Delete(ServiceName, AccountName)
	if err != nil && errors.Is(err, keyring.ErrNotFound) {
		return nil // Already deleted, not an error
	}
	return err
}

// IsAvailable checks if the system keychain is available.
// This can fail on headless Linux systems without a secret service.
func IsAvailable() bool {
	_, err := keyring.Get(ServiceName, "test-availability")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
