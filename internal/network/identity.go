package network

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"meshchat.dev/go/meshchat/internal/keychain"
)

// KeyStore persists the marshalled peer key
type KeyStore interface {
	Load() ([]byte, error) // returns os.ErrNotExist when nothing is stored
	Save(key []byte) error
}

// FileKeyStore keeps the key in a file readable only by the owner
type FileKeyStore struct {
	Path string
}

func (s FileKeyStore) Load() ([]byte, error) {
	return os.ReadFile(s.Path)
}

func (s FileKeyStore) Save(key []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	return os.WriteFile(s.Path, key, 0600)
}

// KeychainKeyStore keeps the key in the system keychain
type KeychainKeyStore struct{}

func (KeychainKeyStore) Load() ([]byte, error) {
	key, err := keychain.GetKey()
	if errors.Is(err, keychain.ErrNotFound) {
		return nil, os.ErrNotExist
	}
	return key, err
}

func (KeychainKeyStore) Save(key []byte) error {
	return keychain.StoreKey(key)
}

// LoadOrCreateKey returns the stored peer key, generating and saving a new
// Ed25519 key on first use.
func LoadOrCreateKey(store KeyStore) (crypto.PrivKey, error) {
	data, err := store.Load()
	switch {
	case err == nil:
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("unmarshal peer key: %w", err)
		}
		return priv, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("load peer key: %w", err)
	}

	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate peer key: %w", err)
	}

	data, err = crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal peer key: %w", err)
	}
	if err := store.Save(data); err != nil {
		return nil, fmt.Errorf("save peer key: %w", err)
	}
	return priv, nil
}

// PeerIDFromKey returns the peer id derived from priv
func PeerIDFromKey(priv crypto.PrivKey) (string, error) {
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("derive peer id: %w", err)
	}
	return id.String(), nil
}
