package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-campus-auth/provider/jwks"
	"github.com/goliatone/go-campus-auth/provider/local"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CAMPUS_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Registration  RegistrationConfig  `yaml:"registration"`
	Reconciler    ReconcilerConfig    `yaml:"reconciler"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TokenLookup     string        `yaml:"token_lookup"`
	RejectedRoute   string        `yaml:"rejected_route"`
	Debug           bool          `yaml:"debug"`
}

// DatabaseConfig holds the profile store connection
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig holds the local identity provider settings
type AuthConfig struct {
	SigningKey       string        `yaml:"signing_key"`
	TokenExpiration  time.Duration `yaml:"token_expiration"`
	Issuer           string        `yaml:"issuer"`
	Audience         []string      `yaml:"audience"`
	MaxLoginAttempts int           `yaml:"max_login_attempts"`
	CoolDownPeriod   time.Duration `yaml:"cool_down_period"`
	UseHashid        bool          `yaml:"use_hashid"`

	// Tokens from a hosted identity service are verified against its key set
	JWKSURL      string `yaml:"jwks_url"`
	JWKSIssuer   string `yaml:"jwks_issuer"`
	JWKSAudience string `yaml:"jwks_audience"`
}

// RegistrationConfig holds signup settings
type RegistrationConfig struct {
	PhoneRegion string        `yaml:"phone_region"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ReconcilerConfig holds the orphan sweep settings
type ReconcilerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Schedule    string        `yaml:"schedule"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// ObservabilityConfig holds logging, metrics and audit bus settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	RedisURL       string `yaml:"redis_url"`
	RedisChannel   string `yaml:"redis_channel"`
}

var _ auth.Config = (*Config)(nil)

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			TokenLookup:     "header:Authorization,cookie:campus_session",
			RejectedRoute:   auth.LoginPath,
		},
		Database: DatabaseConfig{
			DSN: "file:campus.db?cache=shared",
		},
		Auth: AuthConfig{
			TokenExpiration:  24 * time.Hour,
			Issuer:           "campus",
			MaxLoginAttempts: 5,
			CoolDownPeriod:   24 * time.Hour,
		},
		Registration: RegistrationConfig{
			Timeout: 10 * time.Second,
		},
		Reconciler: ReconcilerConfig{
			Enabled:     true,
			Schedule:    auth.DefaultReconcileSchedule,
			GracePeriod: auth.DefaultOrphanGracePeriod,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
			RedisChannel:   "campus:activity",
		},
	}
}

// Load reads path when given, then applies CAMPUS_* environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.TokenLookup = getEnv("TOKEN_LOOKUP", c.Server.TokenLookup)
	c.Server.RejectedRoute = getEnv("REJECTED_ROUTE", c.Server.RejectedRoute)
	c.Server.Debug = getEnvBool("DEBUG", c.Server.Debug)

	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)

	c.Auth.SigningKey = getEnv("SIGNING_KEY", c.Auth.SigningKey)
	c.Auth.TokenExpiration = getEnvDuration("TOKEN_EXPIRATION", c.Auth.TokenExpiration)
	c.Auth.Issuer = getEnv("ISSUER", c.Auth.Issuer)
	if audience := getEnv("AUDIENCE", ""); audience != "" {
		c.Auth.Audience = splitList(audience)
	}
	c.Auth.MaxLoginAttempts = getEnvInt("MAX_LOGIN_ATTEMPTS", c.Auth.MaxLoginAttempts)
	c.Auth.CoolDownPeriod = getEnvDuration("COOL_DOWN_PERIOD", c.Auth.CoolDownPeriod)
	c.Auth.UseHashid = getEnvBool("USE_HASHID", c.Auth.UseHashid)
	c.Auth.JWKSURL = getEnv("JWKS_URL", c.Auth.JWKSURL)
	c.Auth.JWKSIssuer = getEnv("JWKS_ISSUER", c.Auth.JWKSIssuer)
	c.Auth.JWKSAudience = getEnv("JWKS_AUDIENCE", c.Auth.JWKSAudience)

	c.Registration.PhoneRegion = getEnv("PHONE_REGION", c.Registration.PhoneRegion)
	c.Registration.Timeout = getEnvDuration("REGISTRATION_TIMEOUT", c.Registration.Timeout)

	c.Reconciler.Enabled = getEnvBool("RECONCILER_ENABLED", c.Reconciler.Enabled)
	c.Reconciler.Schedule = getEnv("RECONCILE_SCHEDULE", c.Reconciler.Schedule)
	c.Reconciler.GracePeriod = getEnvDuration("ORPHAN_GRACE_PERIOD", c.Reconciler.GracePeriod)

	c.Observability.LogLevel = getEnv("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.RedisURL = getEnv("REDIS_URL", c.Observability.RedisURL)
	c.Observability.RedisChannel = getEnv("REDIS_CHANNEL", c.Observability.RedisChannel)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if len(c.Auth.SigningKey) < 32 {
		return fmt.Errorf("signing key must be at least 32 bytes")
	}
	if c.Auth.TokenExpiration <= 0 {
		return fmt.Errorf("token expiration must be positive")
	}
	if c.Reconciler.GracePeriod <= 0 {
		return fmt.Errorf("orphan grace period must be positive")
	}
	return nil
}

// LocalProvider returns the local identity provider configuration
func (c *Config) LocalProvider() local.Config {
	cfg := local.DefaultConfig([]byte(c.Auth.SigningKey))
	cfg.TokenTTL = c.Auth.TokenExpiration
	cfg.Issuer = c.Auth.Issuer
	cfg.Audience = c.Auth.Audience
	cfg.MinPasswordLength = auth.MinPasswordLength
	cfg.MaxLoginAttempts = c.Auth.MaxLoginAttempts
	cfg.CoolDownPeriod = c.Auth.CoolDownPeriod
	cfg.UseHashid = c.Auth.UseHashid
	return cfg
}

// HostedValidator returns the key set validator configuration, false when
// no key set URL is configured
func (c *Config) HostedValidator() (jwks.Config, bool) {
	if strings.TrimSpace(c.Auth.JWKSURL) == "" {
		return jwks.Config{}, false
	}
	cfg := jwks.DefaultConfig(c.Auth.JWKSURL)
	cfg.Issuer = c.Auth.JWKSIssuer
	cfg.Audience = c.Auth.JWKSAudience
	return cfg, true
}

func (c *Config) GetSigningKey() string             { return c.Auth.SigningKey }
func (c *Config) GetTokenExpiration() time.Duration { return c.Auth.TokenExpiration }
func (c *Config) GetIssuer() string                 { return c.Auth.Issuer }
func (c *Config) GetAudience() []string             { return c.Auth.Audience }
func (c *Config) GetDatabaseDSN() string            { return c.Database.DSN }
func (c *Config) GetRedisURL() string               { return c.Observability.RedisURL }
func (c *Config) GetHTTPAddr() string               { return c.Server.Addr }
func (c *Config) GetReconcileSchedule() string      { return c.Reconciler.Schedule }
func (c *Config) GetOrphanGracePeriod() time.Duration {
	return c.Reconciler.GracePeriod
}
func (c *Config) GetDefaultPhoneRegion() string   { return c.Registration.PhoneRegion }
func (c *Config) GetTokenLookup() string          { return c.Server.TokenLookup }
func (c *Config) GetRejectedRouteDefault() string { return c.Server.RejectedRoute }

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := getEnv(key, ""); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
