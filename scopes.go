package keyguard

// ScopeResult is the outcome of a scope check.
type ScopeResult struct {
	// Valid reports whether every configured requirement was met.
	Valid bool

	// Missing lists the scopes of the first failing requirement set, in
	// requirement order with duplicates removed. Empty when Valid is
	// true.
	Missing []string
}

// ValidateScopes checks provided scopes against two requirement sets:
// every scope in required must be present, and at least one scope in
// anyOf must be present. Empty requirement sets pass vacuously; both
// sets must pass when both are configured. Matching is exact string
// equality. On failure Missing reports the first failing set: the
// required scopes absent from provided, or the whole anyOf set.
func ValidateScopes(provided, required, anyOf []string) ScopeResult {
	providedSet := make(map[string]struct{}, len(provided))
	for _, scope := range provided {
		providedSet[scope] = struct{}{}
	}

	if len(required) > 0 {
		missing := missingScopes(providedSet, required)
		if len(missing) > 0 {
			return ScopeResult{Missing: missing}
		}
	}

	if len(anyOf) > 0 {
		found := false
		for _, scope := range anyOf {
			if _, ok := providedSet[scope]; ok {
				found = true
				break
			}
		}
		if !found {
			return ScopeResult{Missing: dedupeScopes(anyOf)}
		}
	}

	return ScopeResult{Valid: true}
}

// missingScopes returns the elements of required absent from
// providedSet, in required order with duplicates removed.
func missingScopes(providedSet map[string]struct{}, required []string) []string {
	var missing []string
	seen := make(map[string]struct{}, len(required))
	for _, scope := range required {
		if _, dup := seen[scope]; dup {
			continue
		}
		seen[scope] = struct{}{}
		if _, ok := providedSet[scope]; !ok {
			missing = append(missing, scope)
		}
	}
	return missing
}

// dedupeScopes returns scopes with duplicates removed, order preserved.
func dedupeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		if _, dup := seen[scope]; dup {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}
