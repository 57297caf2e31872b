package keyguard

import "fmt"

// GuardConfig is the per-route guard configuration. It is created at
// route-registration time and shared read-only across all requests
// matching the route.
type GuardConfig struct {
	// Scopes lists scopes that must all be present on the key.
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// AnyScope lists scopes of which at least one must be present.
	AnyScope []string `yaml:"anyScope,omitempty" json:"anyScope,omitempty"`

	// AllowAnonymous overrides the global anonymous-access default for
	// this route, in either direction. nil inherits the default.
	AllowAnonymous *bool `yaml:"allowAnonymous,omitempty" json:"allowAnonymous,omitempty"`
}

// Validate checks the configuration.
func (c *GuardConfig) Validate() error {
	for _, scope := range c.Scopes {
		if scope == "" {
			return fmt.Errorf("scopes must not contain empty entries")
		}
	}
	for _, scope := range c.AnyScope {
		if scope == "" {
			return fmt.Errorf("anyScope must not contain empty entries")
		}
	}
	return nil
}

// validSourceTypes is the set of accepted source types.
var validSourceTypes = map[SourceType]bool{
	SourceHeader: true,
	SourceQuery:  true,
	SourceBody:   true,
	SourceCookie: true,
}

// ValidateSources checks an extraction source list.
func ValidateSources(sources []Source) error {
	for i, source := range sources {
		if !validSourceTypes[source.Type] {
			return fmt.Errorf("source %d: unsupported type: %s", i, source.Type)
		}
		if source.Name == "" {
			return fmt.Errorf("source %d: name is required", i)
		}
	}
	return nil
}
