package keystore

import (
	"encoding/json"
	"sync"

	"github.com/quanta-haba/modelauth/internal/auth"
)

// MemoryStore is an in-process Store used in tests and as a fallback when
// the OS credential store is unavailable. Records do not survive restarts.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Save serializes and stores the record under the provider name.
func (s *MemoryStore) Save(provider string, record *auth.TokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[provider] = data
	return nil
}

// Load returns the stored record, or (nil, nil) when absent.
func (s *MemoryStore) Load(provider string) (*auth.TokenRecord, error) {
	s.mu.Lock()
	data, ok := s.entries[provider]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var record auth.TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Delete removes the record for the provider if present.
func (s *MemoryStore) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, provider)
	return nil
}
