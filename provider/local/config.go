package local

import (
	"strings"
	"time"
)

// Config holds the local provider options.
type Config struct {
	// SigningKey signs session tokens with HS256.
	SigningKey []byte

	// TokenTTL is the session lifetime.
	// Default: 24 hours.
	TokenTTL time.Duration

	// Issuer and Audience are written to and enforced on every token.
	Issuer   string
	Audience []string

	// MinPasswordLength rejects shorter passwords at account creation.
	// Default: 8.
	MinPasswordLength int

	// MaxLoginAttempts failed logins are allowed inside CoolDownPeriod.
	// Default: 5 attempts in 24 hours.
	MaxLoginAttempts int
	CoolDownPeriod   time.Duration

	// PasswordCost is the bcrypt cost.
	// Default: bcrypt.DefaultCost.
	PasswordCost int

	// UseHashid derives principal ids from the email instead of random uuids.
	UseHashid bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(signingKey []byte) Config {
	return Config{
		SigningKey:        signingKey,
		TokenTTL:          24 * time.Hour,
		Issuer:            "campus",
		MinPasswordLength: 8,
		MaxLoginAttempts:  5,
		CoolDownPeriod:    24 * time.Hour,
		PasswordCost:      defaultPasswordCost,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.SigningKey)
	if c.TokenTTL <= 0 {
		c.TokenTTL = def.TokenTTL
	}
	if strings.TrimSpace(c.Issuer) == "" {
		c.Issuer = def.Issuer
	}
	if c.MinPasswordLength <= 0 {
		c.MinPasswordLength = def.MinPasswordLength
	}
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = def.MaxLoginAttempts
	}
	if c.CoolDownPeriod <= 0 {
		c.CoolDownPeriod = def.CoolDownPeriod
	}
	if c.PasswordCost <= 0 {
		c.PasswordCost = def.PasswordCost
	}
	return c
}
