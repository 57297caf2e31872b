package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/keyguard"
)

// VaultStore serves key records from a Vault KV v2 secrets engine. Each
// record is a secret at <kvMount>/data/<pathPrefix>/<hash>, so a
// deterministic hasher is required. The store is read-only; records are
// written through Vault's own interfaces.
type VaultStore struct {
	client *vaultapi.Client
	hasher Hasher
	mount  string
	prefix string
	logger *zap.Logger
}

// VaultStoreOption is a functional option for the Vault store.
type VaultStoreOption func(*VaultStore)

// WithVaultLogger sets the logger for the Vault store.
func WithVaultLogger(logger *zap.Logger) VaultStoreOption {
	return func(s *VaultStore) {
		s.logger = logger
	}
}

// NewVaultStore creates a Vault-backed key store.
func NewVaultStore(client *vaultapi.Client, config *VaultConfig, hasher Hasher, opts ...VaultStoreOption) (*VaultStore, error) {
	if client == nil {
		return nil, errors.New("vault client is required")
	}
	if config == nil || config.KVMount == "" {
		return nil, errors.New("kvMount is required")
	}
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	if !hasher.Deterministic() {
		return nil, errors.New("vault store requires a deterministic hash algorithm")
	}

	s := &VaultStore{
		client: client,
		hasher: hasher,
		mount:  config.KVMount,
		prefix: strings.Trim(config.PathPrefix, "/"),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Get returns the record matching the raw key.
func (s *VaultStore) Get(ctx context.Context, key string) (*Key, error) {
	hash, err := s.hasher.Hash(key)
	if err != nil {
		return nil, err
	}

	path := hash
	if s.prefix != "" {
		path = s.prefix + "/" + hash
	}
	fullPath := fmt.Sprintf("%s/data/%s", s.mount, path)

	secret, err := s.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("vault read failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrKeyNotFound
	}

	// KV v2 wraps data in a "data" key. Deleted secrets have data: null.
	dataValue, hasData := secret.Data["data"]
	if hasData && dataValue == nil {
		return nil, ErrKeyNotFound
	}

	data, ok := dataValue.(map[string]interface{})
	if !ok {
		// Try KV v1 format
		data = secret.Data
	}

	record, err := keyFromVaultData(hash, data)
	if err != nil {
		return nil, fmt.Errorf("invalid key record at %s: %w", fullPath, err)
	}

	s.logger.Debug("key record read",
		zap.String("key_id", record.ID),
	)
	return record, nil
}

// keyFromVaultData decodes a key record from Vault secret data. Secrets
// written through the CLI carry string values, so booleans and lists
// are accepted in both native and string form. A missing enabled field
// counts as enabled.
func keyFromVaultData(hash string, data map[string]interface{}) (*Key, error) {
	record := &Key{Hash: hash, Enabled: true}

	if v, ok := data["id"].(string); ok {
		record.ID = v
	}
	if record.ID == "" {
		record.ID = hash
	}
	if v, ok := data["name"].(string); ok {
		record.Name = v
	}

	switch v := data["enabled"].(type) {
	case bool:
		record.Enabled = v
	case string:
		record.Enabled = v == "true"
	}

	record.Scopes = stringSliceFromVault(data["scopes"])

	if v, ok := data["rateLimit"].(map[string]interface{}); ok {
		rl := &keyguard.RateLimit{}
		if n, ok := intFromVault(v["limit"]); ok {
			rl.Limit = int(n)
		}
		if n, ok := intFromVault(v["remaining"]); ok {
			rl.Remaining = int(n)
		}
		if n, ok := intFromVault(v["reset"]); ok {
			rl.Reset = n
		}
		if rl.Limit > 0 {
			record.RateLimit = rl
		}
	}

	if v, ok := data["expiresAt"].(string); ok && v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid expiresAt: %w", err)
		}
		record.ExpiresAt = &t
	}

	if v, ok := data["metadata"].(map[string]interface{}); ok {
		record.Metadata = make(map[string]string, len(v))
		for name, value := range v {
			if str, ok := value.(string); ok {
				record.Metadata[name] = str
			}
		}
	}

	return record, nil
}

// intFromVault decodes a numeric field, which the Vault API surfaces as
// json.Number.
func intFromVault(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}

// stringSliceFromVault decodes a scope list stored either as a JSON
// list or as a comma-separated string.
func stringSliceFromVault(v interface{}) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return nil
}

// Ensure VaultStore implements Store.
var _ Store = (*VaultStore)(nil)
