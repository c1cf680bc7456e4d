package jwks

import (
	"strings"
	"time"
)

// SigningKey is a verification key known ahead of time
type SigningKey struct {
	Key       any
	Algorithm string
}

// Config holds the key set and claim expectations
type Config struct {
	// JWKSetURL is fetched once on New and refreshed in the background.
	JWKSetURL string

	// SigningKeys are keyed by kid and used alongside the fetched set.
	SigningKeys map[string]SigningKey

	// Issuer and Audience are enforced when set.
	Issuer   string
	Audience string

	// Algorithms lists the accepted signing methods.
	// Default: RS256.
	Algorithms []string

	// EmailClaim names the claim holding the principal email.
	// Default: "email".
	EmailClaim string

	// RefreshInterval is how often the key set is refetched.
	// Default: 1 hour.
	RefreshInterval time.Duration
}

// DefaultConfig returns a Config for the given key set URL
func DefaultConfig(url string) Config {
	return Config{
		JWKSetURL:       url,
		Algorithms:      []string{"RS256"},
		EmailClaim:      "email",
		RefreshInterval: time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.JWKSetURL)
	c.JWKSetURL = strings.TrimSpace(c.JWKSetURL)
	if len(c.Algorithms) == 0 {
		c.Algorithms = def.Algorithms
	}
	if strings.TrimSpace(c.EmailClaim) == "" {
		c.EmailClaim = def.EmailClaim
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	return c
}
