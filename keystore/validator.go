package keystore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/keyguard"
)

// Validator adapts a Store into the validation callback a guard
// pipeline consumes. Lookup misses and key lifecycle failures produce
// invalid results; store failures propagate as errors.
type Validator struct {
	store  Store
	logger *zap.Logger
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*Validator)

// WithValidatorLogger sets the logger for the validator.
func WithValidatorLogger(logger *zap.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// NewValidator creates a validator backed by the given store.
func NewValidator(store Store, opts ...ValidatorOption) (*Validator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	v := &Validator{
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ValidateFunc returns the validation callback for guard pipelines.
func (v *Validator) ValidateFunc() keyguard.ValidateFunc {
	return func(ctx context.Context, key string, _ *keyguard.Request) (*keyguard.Result, error) {
		record, err := v.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				return &keyguard.Result{Valid: false}, nil
			}
			return nil, fmt.Errorf("key lookup failed: %w", err)
		}

		if !record.Enabled {
			return &keyguard.Result{Valid: false, Message: "API key disabled"}, nil
		}
		if record.IsExpired() {
			return &keyguard.Result{Valid: false, Message: "API key expired"}, nil
		}

		v.logger.Debug("api key validated",
			zap.String("key_id", record.ID),
			zap.String("key_name", record.Name),
		)

		return &keyguard.Result{
			Valid:     true,
			Scopes:    record.Scopes,
			RateLimit: record.RateLimit,
			Metadata:  resultMetadata(record),
		}, nil
	}
}

// resultMetadata builds the validation result metadata from a record:
// its own metadata entries plus the record's identity.
func resultMetadata(record *Key) map[string]any {
	metadata := make(map[string]any, len(record.Metadata)+2)
	for k, v := range record.Metadata {
		metadata[k] = v
	}
	metadata["keyId"] = record.ID
	if record.Name != "" {
		metadata["keyName"] = record.Name
	}
	return metadata
}
