package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `yaml:"address" json:"address"`

	// Password is the Redis password.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// DB is the Redis database number.
	DB int `yaml:"db,omitempty" json:"db,omitempty"`

	// KeyPrefix is prepended to every stored key hash.
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`

	// Connection pool settings.
	PoolSize     int `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	MinIdleConns int `yaml:"minIdleConns,omitempty" json:"minIdleConns,omitempty"`
	MaxRetries   int `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`

	// Timeouts.
	DialTimeout  time.Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
	ReadTimeout  time.Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout time.Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		KeyPrefix:    "keyguard:apikey:",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// normalizeRedisConfig fills zero fields with defaults.
func normalizeRedisConfig(config *RedisConfig) *RedisConfig {
	defaults := DefaultRedisConfig()
	if config == nil {
		return defaults
	}
	out := *config
	if out.Address == "" {
		out.Address = defaults.Address
	}
	if out.KeyPrefix == "" {
		out.KeyPrefix = defaults.KeyPrefix
	}
	if out.PoolSize <= 0 {
		out.PoolSize = defaults.PoolSize
	}
	if out.MinIdleConns <= 0 {
		out.MinIdleConns = defaults.MinIdleConns
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = defaults.MaxRetries
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = defaults.DialTimeout
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = defaults.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	return &out
}

// RedisStore serves key records from Redis. Records are stored as JSON
// under keyPrefix + hash, so a deterministic hasher is required.
type RedisStore struct {
	client *redis.Client
	hasher Hasher
	prefix string
	logger *zap.Logger
}

// RedisStoreOption is a functional option for the Redis store.
type RedisStoreOption func(*RedisStore)

// WithRedisLogger sets the logger for the Redis store.
func WithRedisLogger(logger *zap.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore creates a Redis store and verifies connectivity.
func NewRedisStore(config *RedisConfig, hasher Hasher, opts ...RedisStoreOption) (*RedisStore, error) {
	config = normalizeRedisConfig(config)
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	if !hasher.Deterministic() {
		return nil, errors.New("redis store requires a deterministic hash algorithm")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	s := &RedisStore{
		client: client,
		hasher: hasher,
		prefix: config.KeyPrefix,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return s, nil
}

// NewRedisStoreWithClient creates a Redis store around an existing
// client. The caller keeps ownership of the client.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string, hasher Hasher, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	if !hasher.Deterministic() {
		return nil, errors.New("redis store requires a deterministic hash algorithm")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultRedisConfig().KeyPrefix
	}

	s := &RedisStore{
		client: client,
		hasher: hasher,
		prefix: keyPrefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the record matching the raw key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Key, error) {
	hash, err := s.hasher.Hash(key)
	if err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.prefix+hash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var record Key
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode key record: %w", err)
	}
	return &record, nil
}

// Put stores a key record. Records with an expiry are stored with a
// matching TTL so Redis drops them on time.
func (s *RedisStore) Put(ctx context.Context, record *Key) error {
	if record == nil || record.Hash == "" {
		return fmt.Errorf("key record requires a hash")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode key record: %w", err)
	}

	var ttl time.Duration
	if record.ExpiresAt != nil {
		ttl = time.Until(*record.ExpiresAt)
		if ttl <= 0 {
			return ErrKeyExpired
		}
	}

	if err := s.client.Set(ctx, s.prefix+record.Hash, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	s.logger.Debug("key record stored",
		zap.String("key_id", record.ID),
	)
	return nil
}

// Delete removes the record stored under the given key hash.
func (s *RedisStore) Delete(ctx context.Context, hash string) error {
	removed, err := s.client.Del(ctx, s.prefix+hash).Result()
	if err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	if removed == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
