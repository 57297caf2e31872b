package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/keyguard"
)

func allowAll(ctx context.Context, key string, req *keyguard.Request) (*keyguard.Result, error) {
	return &keyguard.Result{Valid: true, Scopes: []string{"read"}}, nil
}

func TestLimiter_Allow(t *testing.T) {
	t.Parallel()

	t.Run("burst then denial", func(t *testing.T) {
		t.Parallel()

		l := NewLimiter(1, 3)
		defer l.Stop()

		assert.True(t, l.Allow("key-1"))
		assert.True(t, l.Allow("key-1"))
		assert.True(t, l.Allow("key-1"))
		assert.False(t, l.Allow("key-1"))
	})

	t.Run("keys are limited independently", func(t *testing.T) {
		t.Parallel()

		l := NewLimiter(1, 1)
		defer l.Stop()

		assert.True(t, l.Allow("key-1"))
		assert.False(t, l.Allow("key-1"))
		assert.True(t, l.Allow("key-2"))
	})
}

func TestLimiter_RetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rps  int
		want int
	}{
		{name: "one per second", rps: 1, want: 1},
		{name: "sub-second refill still reports one", rps: 100, want: 1},
		{name: "zero rps", rps: 0, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := NewLimiter(tt.rps, 1)
			defer l.Stop()
			assert.Equal(t, tt.want, l.RetryAfter())
		})
	}
}

func TestLimiter_Wrap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("admitted key reaches the callback", func(t *testing.T) {
		t.Parallel()

		l := NewLimiter(1, 5)
		defer l.Stop()

		result, err := l.Wrap(allowAll)(ctx, "key-1", nil)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, result.Valid)
	})

	t.Run("rejected key fails before the callback", func(t *testing.T) {
		t.Parallel()

		l := NewLimiter(1, 1)
		defer l.Stop()

		calls := 0
		next := func(ctx context.Context, key string, req *keyguard.Request) (*keyguard.Result, error) {
			calls++
			return &keyguard.Result{Valid: true}, nil
		}

		wrapped := l.Wrap(next)
		_, err := wrapped(ctx, "key-1", nil)
		require.NoError(t, err)

		result, err := wrapped(ctx, "key-1", nil)
		require.Error(t, err)
		assert.Nil(t, result)
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, keyguard.ErrRateLimitExceeded)

		authErr := keyguard.AsAuthError(err)
		require.NotNil(t, authErr)
		assert.GreaterOrEqual(t, authErr.RetryAfter, 1)
	})

	t.Run("bucket state attached to the result", func(t *testing.T) {
		t.Parallel()

		l := NewLimiter(1, 5)
		defer l.Stop()

		result, err := l.Wrap(allowAll)(ctx, "key-1", nil)
		require.NoError(t, err)
		require.NotNil(t, result.RateLimit)
		assert.Equal(t, 5, result.RateLimit.Limit)
		assert.GreaterOrEqual(t, result.RateLimit.Remaining, 0)
		assert.LessOrEqual(t, result.RateLimit.Remaining, 4)
		assert.GreaterOrEqual(t, result.RateLimit.Reset, time.Now().Unix())
	})

	t.Run("callback rate limit state wins", func(t *testing.T) {
		t.Parallel()

		l := NewLimiter(1, 5)
		defer l.Stop()

		own := &keyguard.RateLimit{Limit: 1000, Remaining: 999, Reset: 1}
		next := func(ctx context.Context, key string, req *keyguard.Request) (*keyguard.Result, error) {
			return &keyguard.Result{Valid: true, RateLimit: own}, nil
		}

		result, err := l.Wrap(next)(ctx, "key-1", nil)
		require.NoError(t, err)
		assert.Same(t, own, result.RateLimit)
	})

	t.Run("result quota resizes the bucket", func(t *testing.T) {
		t.Parallel()

		l := NewLimiter(1, 5)
		defer l.Stop()

		quota := &keyguard.RateLimit{Limit: 1}
		next := func(ctx context.Context, key string, req *keyguard.Request) (*keyguard.Result, error) {
			return &keyguard.Result{Valid: true, RateLimit: quota}, nil
		}
		wrapped := l.Wrap(next)

		// The first admission runs against the default burst and
		// shrinks the bucket to the key's quota; the shrunken bucket
		// holds one token for the second call and none for the third.
		_, err := wrapped(ctx, "key-1", nil)
		require.NoError(t, err)
		_, err = wrapped(ctx, "key-1", nil)
		require.NoError(t, err)

		_, err = wrapped(ctx, "key-1", nil)
		assert.ErrorIs(t, err, keyguard.ErrRateLimitExceeded)
	})

	t.Run("callback errors pass through", func(t *testing.T) {
		t.Parallel()

		l := NewLimiter(1, 5)
		defer l.Stop()

		nextErr := errors.New("store down")
		next := func(ctx context.Context, key string, req *keyguard.Request) (*keyguard.Result, error) {
			return nil, nextErr
		}

		result, err := l.Wrap(next)(ctx, "key-1", nil)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, nextErr)
	})
}

func TestLimiter_CleanupOldKeys(t *testing.T) {
	t.Parallel()

	l := NewLimiter(1, 1)
	defer l.Stop()

	l.Allow("key-1")
	l.Allow("key-2")
	assert.Equal(t, 2, l.KeyCount())

	// Nothing is old enough yet.
	l.CleanupOldKeys(time.Minute)
	assert.Equal(t, 2, l.KeyCount())

	assert.Eventually(t, func() bool {
		l.CleanupOldKeys(0)
		return l.KeyCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestLimiter_Stop(t *testing.T) {
	t.Parallel()

	l := NewLimiter(1, 1)
	l.StartAutoCleanup()

	l.Stop()
	assert.NotPanics(t, func() { l.Stop() })

	// Starting cleanup after stop is a no-op.
	assert.NotPanics(t, func() { l.StartAutoCleanup() })
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "disabled", config: &Config{Enabled: false}},
		{name: "valid", config: &Config{Enabled: true, RequestsPerSecond: 10, Burst: 20}},
		{name: "zero rps", config: &Config{Enabled: true, Burst: 20}, wantErr: true},
		{name: "zero burst", config: &Config{Enabled: true, RequestsPerSecond: 10}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("nil config passes the callback through", func(t *testing.T) {
		t.Parallel()

		wrapped, l, err := FromConfig(nil, allowAll, zap.NewNop())
		require.NoError(t, err)
		assert.Nil(t, l)

		result, err := wrapped(ctx, "key-1", nil)
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Nil(t, result.RateLimit)
	})

	t.Run("disabled config passes the callback through", func(t *testing.T) {
		t.Parallel()

		wrapped, l, err := FromConfig(&Config{Enabled: false}, allowAll, zap.NewNop())
		require.NoError(t, err)
		assert.Nil(t, l)
		assert.NotNil(t, wrapped)
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		t.Parallel()

		_, _, err := FromConfig(&Config{Enabled: true}, allowAll, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("enabled config wraps and limits", func(t *testing.T) {
		t.Parallel()

		wrapped, l, err := FromConfig(&Config{
			Enabled:           true,
			RequestsPerSecond: 1,
			Burst:             1,
			KeyTTL:            time.Minute,
		}, allowAll, zap.NewNop())
		require.NoError(t, err)
		require.NotNil(t, l)
		defer l.Stop()

		_, err = wrapped(ctx, "key-1", nil)
		require.NoError(t, err)

		_, err = wrapped(ctx, "key-1", nil)
		assert.ErrorIs(t, err, keyguard.ErrRateLimitExceeded)
	})
}
