// Package ratelimit provides per-key admission control for keyguard
// validation callbacks, built on token buckets. The guard pipeline
// itself never rate limits; this package wraps the validator so keys
// over their budget fail with RATE_LIMIT_EXCEEDED before validation
// runs.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/keyguard"
)

// Limiter default configuration constants.
const (
	// DefaultKeyTTL is the default TTL for per-key limiter entries.
	DefaultKeyTTL = 10 * time.Minute

	// MinCleanupInterval is the minimum interval for cleanup operations.
	MinCleanupInterval = 10 * time.Second

	// MaxCleanupInterval is the maximum interval for cleanup operations.
	MaxCleanupInterval = time.Minute
)

// keyEntry holds a rate limiter and its last access time for TTL-based
// cleanup.
type keyEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter applies a token-bucket rate limit per API key.
type Limiter struct {
	rps    int
	burst  int
	keys   map[string]*keyEntry
	mu     sync.Mutex
	logger *zap.Logger
	keyTTL time.Duration

	stopCh  chan struct{}
	stopped bool
}

// LimiterOption is a functional option for configuring the limiter.
type LimiterOption func(*Limiter)

// WithLimiterLogger sets the logger for the limiter.
func WithLimiterLogger(logger *zap.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithKeyTTL sets the TTL for idle per-key entries.
func WithKeyTTL(ttl time.Duration) LimiterOption {
	return func(l *Limiter) {
		l.keyTTL = ttl
	}
}

// NewLimiter creates a per-key rate limiter allowing rps requests per
// second with the given burst.
func NewLimiter(rps, burst int, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		rps:    rps,
		burst:  burst,
		keys:   make(map[string]*keyEntry),
		logger: zap.NewNop(),
		keyTTL: DefaultKeyTTL,
		stopCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow reports whether the key may proceed.
// Entry lookup and lastAccess update share a single critical section to
// avoid races between existence checks and access-time updates.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	entry, exists := l.keys[key]
	if !exists {
		entry = &keyEntry{
			limiter:    rate.NewLimiter(rate.Limit(l.rps), l.burst),
			lastAccess: now,
		}
		l.keys[key] = entry
	} else {
		entry.lastAccess = now
	}
	limiter := entry.limiter
	l.mu.Unlock()

	// Allow() is thread-safe on the limiter itself
	return limiter.Allow()
}

// RetryAfter returns the suggested wait in whole seconds before a
// rejected key should retry, at least 1.
func (l *Limiter) RetryAfter() int {
	if l.rps <= 0 {
		return 1
	}
	seconds := int(math.Ceil(1 / float64(l.rps)))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// snapshot reports the key's current bucket state in the passthrough
// rate-limit shape.
func (l *Limiter) snapshot(key string) *keyguard.RateLimit {
	l.mu.Lock()
	entry, exists := l.keys[key]
	l.mu.Unlock()

	if !exists {
		return nil
	}

	burst := entry.limiter.Burst()
	tokens := entry.limiter.Tokens()
	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	reset := time.Now()
	if missing := float64(burst) - tokens; missing > 0 && l.rps > 0 {
		reset = reset.Add(time.Duration(missing / float64(l.rps) * float64(time.Second)))
	}

	return &keyguard.RateLimit{
		Limit:     burst,
		Remaining: remaining,
		Reset:     reset.Unix(),
	}
}

// resize applies a validator-reported quota to the key's bucket. The
// new burst takes effect from the next admission; the current request
// was already admitted against the previous size.
func (l *Limiter) resize(key string, rl *keyguard.RateLimit) {
	if rl == nil || rl.Limit <= 0 {
		return
	}

	l.mu.Lock()
	entry, exists := l.keys[key]
	l.mu.Unlock()

	if exists && entry.limiter.Burst() != rl.Limit {
		entry.limiter.SetBurst(rl.Limit)
	}
}

// Wrap decorates a validation callback with per-key admission control.
// Keys over their budget fail with RATE_LIMIT_EXCEEDED before the
// wrapped callback runs. A quota on the callback's result resizes the
// key's bucket for subsequent requests; admitted keys get the bucket
// state attached to the result unless the callback set its own.
func (l *Limiter) Wrap(next keyguard.ValidateFunc) keyguard.ValidateFunc {
	return func(ctx context.Context, key string, req *keyguard.Request) (*keyguard.Result, error) {
		if !l.Allow(key) {
			l.logger.Warn("rate limit exceeded")
			return nil, keyguard.NewRateLimitExceededError(l.RetryAfter())
		}

		result, err := next(ctx, key, req)
		if err != nil || result == nil {
			return result, err
		}
		l.resize(key, result.RateLimit)
		if result.RateLimit == nil {
			result.RateLimit = l.snapshot(key)
		}
		return result, nil
	}
}

// CleanupOldKeys removes idle per-key entries to prevent memory leaks.
// It removes entries that haven't been accessed within the TTL period.
func (l *Limiter) CleanupOldKeys(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	expired := make([]string, 0)

	for key, entry := range l.keys {
		if now.Sub(entry.lastAccess) > maxAge {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		delete(l.keys, key)
	}

	if len(expired) > 0 {
		l.logger.Debug("cleaned up expired limiter entries",
			zap.Int("removed", len(expired)),
			zap.Int("remaining", len(l.keys)),
		)
	}
}

// StartAutoCleanup starts TTL-based cleanup using the limiter's
// internal stop channel.
func (l *Limiter) StartAutoCleanup() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	go func() {
		// Run cleanup at half the TTL, clamped to a sane interval
		cleanupInterval := l.keyTTL / 2
		if cleanupInterval > MaxCleanupInterval {
			cleanupInterval = MaxCleanupInterval
		}
		if cleanupInterval < MinCleanupInterval {
			cleanupInterval = MinCleanupInterval
		}

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.CleanupOldKeys(l.keyTTL)
			case <-l.stopCh:
				return
			}
		}
	}()
}

// Stop stops the limiter cleanup goroutine.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.stopped {
		l.stopped = true
		close(l.stopCh)
	}
}

// KeyCount returns the number of tracked per-key entries.
func (l *Limiter) KeyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Config configures per-key rate limiting.
type Config struct {
	// Enabled enables rate limiting.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// RequestsPerSecond is the per-key rate limit.
	RequestsPerSecond int `yaml:"requestsPerSecond,omitempty" json:"requestsPerSecond,omitempty"`

	// Burst is the burst size.
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`

	// KeyTTL is how long idle per-key entries are kept.
	KeyTTL time.Duration `yaml:"keyTTL,omitempty" json:"keyTTL,omitempty"`
}

// Validate validates the rate limit configuration.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.RequestsPerSecond <= 0 {
		return errors.New("requestsPerSecond must be positive")
	}
	if c.Burst <= 0 {
		return errors.New("burst must be positive")
	}
	return nil
}

// FromConfig wraps next with a limiter built from config, starting
// TTL-based cleanup. Returns next unchanged and a nil limiter when the
// config is nil or disabled; otherwise the caller owns the limiter's
// Stop.
func FromConfig(cfg *Config, next keyguard.ValidateFunc, logger *zap.Logger) (keyguard.ValidateFunc, *Limiter, error) {
	if cfg == nil || !cfg.Enabled {
		return next, nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	opts := []LimiterOption{WithLimiterLogger(logger)}
	if cfg.KeyTTL > 0 {
		opts = append(opts, WithKeyTTL(cfg.KeyTTL))
	}

	l := NewLimiter(cfg.RequestsPerSecond, cfg.Burst, opts...)
	l.StartAutoCleanup()
	return l.Wrap(next), l, nil
}
