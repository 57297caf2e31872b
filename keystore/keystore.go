// Package keystore provides API key storage backends and a validator
// bridging them into keyguard guard pipelines.
//
// Keys are stored hashed; the raw key value exists only in the caller's
// hands. Four backends are available: an in-memory store seeded from
// configuration, a YAML file store with live reload, a Redis store, and
// a Vault KV store.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/keyguard"
	"github.com/vyrodovalexey/keyguard/keygen"
)

// Common errors for key lookup and management.
var (
	// ErrKeyNotFound indicates that no record matches the key.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrKeyExpired indicates that the key has expired.
	ErrKeyExpired = errors.New("api key expired")

	// ErrKeyDisabled indicates that the key is disabled.
	ErrKeyDisabled = errors.New("api key disabled")

	// ErrDuplicateKey indicates that a record with the same ID exists.
	ErrDuplicateKey = errors.New("api key already exists")
)

// Key is a stored API key record. The Hash field holds the key in the
// store's hashed form; the raw value is never persisted.
type Key struct {
	// ID is the unique identifier for the key.
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable name for the key.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Hash is the hashed key value.
	Hash string `yaml:"hash" json:"hash"`

	// Scopes is the scopes granted to the key.
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// RateLimit is the key's request quota, passed through validation
	// results to rate limiters and authentication contexts.
	RateLimit *keyguard.RateLimit `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`

	// Enabled indicates whether the key may authenticate.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// CreatedAt is when the key was created.
	CreatedAt time.Time `yaml:"createdAt,omitempty" json:"createdAt,omitempty"`

	// ExpiresAt is when the key expires. nil means never.
	ExpiresAt *time.Time `yaml:"expiresAt,omitempty" json:"expiresAt,omitempty"`

	// Metadata contains additional key attributes.
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// IsExpired returns true if the key has expired.
func (k *Key) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*k.ExpiresAt)
}

// IsValid returns true if the key is enabled and not expired.
func (k *Key) IsValid() bool {
	return k.Enabled && !k.IsExpired()
}

// Store looks up API key records by raw key value.
type Store interface {
	// Get returns the record matching the raw key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (*Key, error)
}

// MemoryStore is an in-memory implementation of the Store interface.
// Lookups go through a hash index when the hasher is deterministic and
// fall back to verifying each record otherwise.
type MemoryStore struct {
	hasher Hasher
	mu     sync.RWMutex
	byID   map[string]*Key
	byHash map[string]string
}

// NewMemoryStore creates a new in-memory key store. A nil hasher
// defaults to SHA-256.
func NewMemoryStore(hasher Hasher) *MemoryStore {
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	return &MemoryStore{
		hasher: hasher,
		byID:   make(map[string]*Key),
		byHash: make(map[string]string),
	}
}

// Get returns the record matching the raw key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.hasher.Deterministic() {
		hash, err := s.hasher.Hash(key)
		if err != nil {
			return nil, err
		}
		id, ok := s.byHash[hash]
		if !ok {
			return nil, ErrKeyNotFound
		}
		return s.byID[id], nil
	}

	for _, record := range s.byID {
		if s.hasher.Verify(key, record.Hash) {
			return record, nil
		}
	}
	return nil, ErrKeyNotFound
}

// Put stores a new key record.
func (s *MemoryStore) Put(ctx context.Context, record *Key) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("key record requires an id")
	}
	if record.Hash == "" {
		return fmt.Errorf("key record requires a hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[record.ID]; exists {
		return ErrDuplicateKey
	}
	s.byID[record.ID] = record
	if s.hasher.Deterministic() {
		s.byHash[record.Hash] = record.ID
	}
	return nil
}

// Delete removes a key record by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.byID[id]
	if !exists {
		return ErrKeyNotFound
	}
	delete(s.byID, id)
	delete(s.byHash, record.Hash)
	return nil
}

// List returns all key records.
func (s *MemoryStore) List(ctx context.Context) ([]*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*Key, 0, len(s.byID))
	for _, record := range s.byID {
		keys = append(keys, record)
	}
	return keys, nil
}

// Count returns the number of key records in the store.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Clear removes all key records from the store.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*Key)
	s.byHash = make(map[string]string)
}

// Mint generates a new API key, stores its record, and returns the raw
// key alongside the record. The raw key is not recoverable afterwards.
func (s *MemoryStore) Mint(ctx context.Context, name string, scopes []string, genOpts keygen.Options) (string, *Key, error) {
	raw, err := keygen.Generate(genOpts)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate key: %w", err)
	}

	hash, err := s.hasher.Hash(raw)
	if err != nil {
		return "", nil, err
	}

	record := &Key{
		ID:        uuid.NewString(),
		Name:      name,
		Hash:      hash,
		Scopes:    scopes,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := s.Put(ctx, record); err != nil {
		return "", nil, err
	}
	return raw, record, nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
