// Package keystore persists OAuth token records in the operating system's
// secure credential store, keyed by a configurable namespace plus the
// provider name. Records survive process restarts; absence of a record is
// not an error.
package keystore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/quanta-haba/modelauth/internal/auth"
)

// Store is the persistence interface for token records. Load returns
// (nil, nil) when no record exists for the provider.
type Store interface {
	Save(provider string, record *auth.TokenRecord) error
	Load(provider string) (*auth.TokenRecord, error)
	Delete(provider string) error
}

// KeyringStore stores token records in the OS keychain/credential manager.
type KeyringStore struct {
	// namespace is the secret-store service name, passed in at construction
	// so tests and multiple providers can run isolated.
	namespace string
}

// NewKeyringStore creates a keyring-backed store under the given namespace.
func NewKeyringStore(namespace string) *KeyringStore {
	return &KeyringStore{namespace: namespace}
}

// entryKey returns the per-provider account name inside the namespace.
func (s *KeyringStore) entryKey(provider string) string {
	return provider + "_tokens"
}

// Save serializes the record as JSON and writes it to the keychain.
func (s *KeyringStore) Save(provider string, record *auth.TokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize token record: %w", err)
	}
	if err = keyring.Set(s.namespace, s.entryKey(provider), string(data)); err != nil {
		return auth.NewAuthenticationError(auth.ErrStorage, fmt.Errorf("failed to store tokens: %w", err))
	}
	return nil
}

// Load reads and deserializes the record for the provider. A missing entry
// returns (nil, nil).
func (s *KeyringStore) Load(provider string) (*auth.TokenRecord, error) {
	data, err := keyring.Get(s.namespace, s.entryKey(provider))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, auth.NewAuthenticationError(auth.ErrStorage, fmt.Errorf("failed to read tokens: %w", err))
	}

	var record auth.TokenRecord
	if err = json.Unmarshal([]byte(data), &record); err != nil {
		return nil, auth.NewAuthenticationError(auth.ErrStorage, fmt.Errorf("failed to parse stored tokens: %w", err))
	}
	return &record, nil
}

// Delete removes the record for the provider. Deleting a missing entry is
// not an error.
func (s *KeyringStore) Delete(provider string) error {
	if err := keyring.Delete(s.namespace, s.entryKey(provider)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return auth.NewAuthenticationError(auth.ErrStorage, fmt.Errorf("failed to delete tokens: %w", err))
	}
	return nil
}
