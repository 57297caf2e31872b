package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	vaultapi "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/keyguard"
)

// Store types.
const (
	StoreTypeMemory = "memory"
	StoreTypeFile   = "file"
	StoreTypeRedis  = "redis"
	StoreTypeVault  = "vault"
)

// Config configures a key store.
type Config struct {
	// Type is the store type (memory, file, redis, vault).
	Type string `yaml:"type" json:"type"`

	// HashAlgorithm is the algorithm used to hash API keys.
	// Supported: sha256, sha512, bcrypt, plaintext (dev only).
	HashAlgorithm string `yaml:"hashAlgorithm,omitempty" json:"hashAlgorithm,omitempty"`

	// Keys is a list of seed keys (for the memory store).
	Keys []SeedKey `yaml:"keys,omitempty" json:"keys,omitempty"`

	// FilePath is the path to the key file (for the file store).
	FilePath string `yaml:"filePath,omitempty" json:"filePath,omitempty"`

	// Redis configures the Redis store.
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// Vault configures the Vault store.
	Vault *VaultConfig `yaml:"vault,omitempty" json:"vault,omitempty"`
}

// SeedKey is a key record in configuration form. Either the raw Key
// value or a precomputed Hash must be set.
type SeedKey struct {
	// ID is the unique identifier for the key. Generated when empty.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`

	// Key is the raw API key value, hashed at load time.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`

	// Hash is the pre-computed hash of the key.
	Hash string `yaml:"hash,omitempty" json:"hash,omitempty"`

	// Name is a human-readable name for the key.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Scopes is the scopes granted to the key.
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// RateLimit is the key's request quota.
	RateLimit *keyguard.RateLimit `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`

	// Enabled indicates whether the key may authenticate.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ExpiresAt is when the key expires.
	ExpiresAt *time.Time `yaml:"expiresAt,omitempty" json:"expiresAt,omitempty"`

	// Metadata contains additional key attributes.
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// toKey converts a seed into a stored record, hashing the raw value
// when no precomputed hash is present.
func (k SeedKey) toKey(hasher Hasher) (*Key, error) {
	hash := k.Hash
	if hash == "" {
		if k.Key == "" {
			return nil, errors.New("key or hash is required")
		}
		h, err := hasher.Hash(k.Key)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	id := k.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &Key{
		ID:        id,
		Name:      k.Name,
		Hash:      hash,
		Scopes:    k.Scopes,
		RateLimit: k.RateLimit,
		Enabled:   k.Enabled,
		ExpiresAt: k.ExpiresAt,
		Metadata:  k.Metadata,
	}, nil
}

// VaultConfig configures the Vault store.
type VaultConfig struct {
	// KVMount is the Vault KV v2 mount path.
	KVMount string `yaml:"kvMount" json:"kvMount"`

	// PathPrefix is the path prefix for key records under the mount.
	PathPrefix string `yaml:"pathPrefix,omitempty" json:"pathPrefix,omitempty"`
}

// Validate validates the store configuration.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}

	validTypes := map[string]bool{
		"":              true,
		StoreTypeMemory: true,
		StoreTypeFile:   true,
		StoreTypeRedis:  true,
		StoreTypeVault:  true,
	}
	if !validTypes[c.Type] {
		return fmt.Errorf("invalid store type: %s", c.Type)
	}

	if err := validateHashAlgorithm(c.HashAlgorithm); err != nil {
		return err
	}

	if c.Type == StoreTypeFile && c.FilePath == "" {
		return errors.New("filePath is required for file store")
	}
	if c.Type == StoreTypeVault && (c.Vault == nil || c.Vault.KVMount == "") {
		return errors.New("vault.kvMount is required for vault store")
	}

	return nil
}

// validateHashAlgorithm validates the hash algorithm name.
func validateHashAlgorithm(algorithm string) error {
	if algorithm == "" {
		return nil
	}
	validAlgorithms := map[string]bool{
		HashAlgSHA256:    true,
		HashAlgSHA512:    true,
		HashAlgBcrypt:    true,
		HashAlgPlaintext: true,
	}
	if !validAlgorithms[algorithm] {
		return fmt.Errorf("invalid hash algorithm: %s", algorithm)
	}
	return nil
}

// GetEffectiveHashAlgorithm returns the effective hash algorithm.
func (c *Config) GetEffectiveHashAlgorithm() string {
	if c.HashAlgorithm != "" {
		return c.HashAlgorithm
	}
	return HashAlgSHA256
}

// DefaultConfig returns a default store configuration.
func DefaultConfig() *Config {
	return &Config{
		Type:          StoreTypeMemory,
		HashAlgorithm: HashAlgSHA256,
	}
}

// storeOptions holds cross-backend factory options.
type storeOptions struct {
	logger      *zap.Logger
	vaultClient *vaultapi.Client
}

// StoreOption is a functional option for NewStore.
type StoreOption func(*storeOptions)

// WithStoreLogger sets the logger passed to the created store.
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithVaultClient sets the Vault client used by the vault store type.
func WithVaultClient(client *vaultapi.Client) StoreOption {
	return func(o *storeOptions) {
		o.vaultClient = client
	}
}

// NewStore creates a key store from configuration.
func NewStore(config *Config, opts ...StoreOption) (Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := &storeOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	hasher, err := NewHasher(config.GetEffectiveHashAlgorithm())
	if err != nil {
		return nil, err
	}

	switch config.Type {
	case "", StoreTypeMemory:
		store := NewMemoryStore(hasher)
		for i, seed := range config.Keys {
			record, err := seed.toKey(hasher)
			if err != nil {
				return nil, fmt.Errorf("keys[%d]: %w", i, err)
			}
			if err := store.Put(context.Background(), record); err != nil {
				return nil, fmt.Errorf("keys[%d]: %w", i, err)
			}
		}
		return store, nil

	case StoreTypeFile:
		return NewFileStore(config.FilePath, hasher, WithFileLogger(o.logger))

	case StoreTypeRedis:
		return NewRedisStore(config.Redis, hasher, WithRedisLogger(o.logger))

	case StoreTypeVault:
		if o.vaultClient == nil {
			return nil, errors.New("vault store requires a client: use WithVaultClient")
		}
		return NewVaultStore(o.vaultClient, config.Vault, hasher, WithVaultLogger(o.logger))

	default:
		return nil, fmt.Errorf("invalid store type: %s", config.Type)
	}
}
