package keyguard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithAuth(t *testing.T) {
	t.Parallel()

	auth := &AuthContext{
		Key:    RedactedKey,
		Scopes: []string{"read", "write"},
		Metadata: map[string]any{
			"keyId": "key-1",
		},
	}

	ctx := ContextWithAuth(context.Background(), auth)

	got, ok := AuthFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, auth, got)

	scopes, ok := ScopesFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"read", "write"}, scopes)
}

func TestAuthFromContext_Absent(t *testing.T) {
	t.Parallel()

	auth, ok := AuthFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, auth)
}

func TestScopesFromContext_Absent(t *testing.T) {
	t.Parallel()

	scopes, ok := ScopesFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, scopes)
}

func TestAuthContext_HasScope(t *testing.T) {
	t.Parallel()

	auth := &AuthContext{Scopes: []string{"read", "write"}}
	assert.True(t, auth.HasScope("read"))
	assert.True(t, auth.HasScope("write"))
	assert.False(t, auth.HasScope("admin"))
	assert.False(t, auth.HasScope(""))

	empty := &AuthContext{}
	assert.False(t, empty.HasScope("read"))
}
