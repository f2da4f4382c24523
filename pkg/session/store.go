package session

import (
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"
)

// Keys of the persisted session entries.
const (
	AccessTokenKey  = "auth_access_token"
	RefreshTokenKey = "auth_refresh_token"
	ExpiresAtKey    = "auth_expires_at"
)

var persistedKeys = []string{AccessTokenKey, RefreshTokenKey, ExpiresAtKey}

// KV is the durable key-value store the session is persisted to.
// SetAll must write every entry or none.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	SetAll(entries map[string]string) error
	Delete(keys ...string) error
}

// loadState returns nil when any of the entries is missing.
func loadState(kv KV) (*State, error) {
	values := make(map[string]string, len(persistedKeys))
	for _, key := range persistedKeys {
		value, ok, err := kv.Get(key)
		if err != nil {
			return nil, fmt.Errorf("couldn't read '%s': %w", key, err)
		}
		if !ok || value == "" {
			return nil, nil
		}
		values[key] = value
	}

	expiresAtMillis, err := strconv.ParseInt(values[ExpiresAtKey], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed '%s' entry: %w", ExpiresAtKey, err)
	}

	return &State{
		AccessToken:  values[AccessTokenKey],
		RefreshToken: values[RefreshTokenKey],
		ExpiresAt:    time.UnixMilli(expiresAtMillis),
	}, nil
}

func persistState(kv KV, state *State) error {
	return kv.SetAll(map[string]string{
		AccessTokenKey:  state.AccessToken,
		RefreshTokenKey: state.RefreshToken,
		ExpiresAtKey:    strconv.FormatInt(state.ExpiresAt.UnixMilli(), 10),
	})
}

func erasePersisted(kv KV) error {
	return kv.Delete(persistedKeys...)
}

// MemoryStore is a KV that lives only as long as the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	return value, ok, nil
}

func (s *MemoryStore) SetAll(entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.entries, entries)
	return nil
}

func (s *MemoryStore) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
