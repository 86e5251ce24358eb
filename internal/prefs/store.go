// Package prefs implements the persisted configuration store: a string
// key/value store that survives restarts and holds the user's last-used
// fetch options. Reads are defensive; a missing or malformed entry falls
// back to its hard-coded default and never produces an error.
package prefs

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
)

// Store is a flat string key/value store.
type Store interface {
	// Get returns the raw serialized value and whether the key exists.
	Get(key string) (string, bool)
	// Set records the raw serialized value for the key.
	Set(key, value string)
	// Save persists all entries; a no-op for stores without a backing file.
	Save() error
}

// FileStore persists preferences through a viper-managed YAML file.
type FileStore struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// NewFileStore opens (or lazily creates) the preference file at path.
func NewFileStore(path string) (*FileStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read preferences: %w", err)
		}
		// No file yet; first Save creates it.
	}
	return &FileStore{v: v, path: path}, nil
}

// Get returns the stored value for key.
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return "", false
	}
	return s.v.GetString(key), true
}

// Set records the value for key in memory; call Save to persist.
func (s *FileStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

// Save writes the preference file.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

// MemoryStore is a Store for tests and ephemeral runs.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]string)}
}

// Get returns the stored value for key.
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Set records the value for key.
func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// Save is a no-op.
func (s *MemoryStore) Save() error {
	return nil
}
