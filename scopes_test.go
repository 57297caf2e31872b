package keyguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateScopes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		provided    []string
		required    []string
		anyOf       []string
		wantValid   bool
		wantMissing []string
	}{
		{
			name:      "no requirements passes",
			provided:  nil,
			wantValid: true,
		},
		{
			name:      "no requirements passes with scopes",
			provided:  []string{"read", "write"},
			wantValid: true,
		},
		{
			name:      "all required present",
			provided:  []string{"read", "write", "admin"},
			required:  []string{"read", "write"},
			wantValid: true,
		},
		{
			name:        "one required missing",
			provided:    []string{"read"},
			required:    []string{"read", "write"},
			wantValid:   false,
			wantMissing: []string{"write"},
		},
		{
			name:        "all required missing in requirement order",
			provided:    nil,
			required:    []string{"write", "read"},
			wantValid:   false,
			wantMissing: []string{"write", "read"},
		},
		{
			name:        "empty provided fails required",
			provided:    []string{},
			required:    []string{"read"},
			wantValid:   false,
			wantMissing: []string{"read"},
		},
		{
			name:      "anyOf satisfied by one",
			provided:  []string{"write"},
			anyOf:     []string{"read", "write"},
			wantValid: true,
		},
		{
			name:        "anyOf none present reports whole set",
			provided:    []string{"admin"},
			anyOf:       []string{"read", "write"},
			wantValid:   false,
			wantMissing: []string{"read", "write"},
		},
		{
			name:      "both sets satisfied",
			provided:  []string{"read", "write"},
			required:  []string{"read"},
			anyOf:     []string{"write", "admin"},
			wantValid: true,
		},
		{
			name:        "required fails before anyOf",
			provided:    []string{"write"},
			required:    []string{"read"},
			anyOf:       []string{"admin"},
			wantValid:   false,
			wantMissing: []string{"read"},
		},
		{
			name:        "required passes but anyOf fails",
			provided:    []string{"read"},
			required:    []string{"read"},
			anyOf:       []string{"write", "admin"},
			wantValid:   false,
			wantMissing: []string{"write", "admin"},
		},
		{
			name:        "duplicate required scopes reported once",
			provided:    nil,
			required:    []string{"read", "read", "write"},
			wantValid:   false,
			wantMissing: []string{"read", "write"},
		},
		{
			name:        "duplicate anyOf scopes reported once",
			provided:    nil,
			anyOf:       []string{"read", "read"},
			wantValid:   false,
			wantMissing: []string{"read"},
		},
		{
			name:        "matching is exact, no wildcard or hierarchy",
			provided:    []string{"read:*", "admin"},
			required:    []string{"read:users"},
			wantValid:   false,
			wantMissing: []string{"read:users"},
		},
		{
			name:        "matching is case sensitive",
			provided:    []string{"Read"},
			required:    []string{"read"},
			wantValid:   false,
			wantMissing: []string{"read"},
		},
		{
			name:      "duplicate provided scopes are harmless",
			provided:  []string{"read", "read"},
			required:  []string{"read"},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := ValidateScopes(tt.provided, tt.required, tt.anyOf)
			assert.Equal(t, tt.wantValid, result.Valid)
			if tt.wantValid {
				assert.Empty(t, result.Missing)
			} else {
				assert.Equal(t, tt.wantMissing, result.Missing)
			}
		})
	}
}
