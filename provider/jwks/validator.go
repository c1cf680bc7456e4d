package jwks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-errors"
)

const (
	TextCodeTokenExpired   = "jwks_token_expired"
	TextCodeTokenMalformed = "jwks_token_malformed"
	TextCodeNoSubject      = "jwks_no_subject"
)

// ErrTokenExpired is returned for expired tokens
var ErrTokenExpired = errors.New("session token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that fail to parse or verify
var ErrTokenMalformed = errors.New("session token malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrNoSubject is returned for valid tokens that name no principal
var ErrNoSubject = errors.New("session token has no subject", errors.CategoryAuth).
	WithTextCode(TextCodeNoSubject).
	WithCode(errors.CodeUnauthorized)

// Option customizes the Validator
type Option func(*Validator)

// WithLogger sets the validator logger
func WithLogger(logger auth.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithClock injects a custom clock
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithFallback tries next when a token is not verifiable by the key set
func WithFallback(next auth.SessionValidator) Option {
	return func(v *Validator) {
		v.fallback = next
	}
}

// Validator implements auth.SessionValidator for key set signed tokens
type Validator struct {
	cfg      Config
	keys     *keyfunc.JWKS
	fallback auth.SessionValidator
	logger   auth.Logger
	now      func() time.Time
}

var _ auth.SessionValidator = (*Validator)(nil)

// New fetches the key set when a URL is configured
func New(cfg Config, opts ...Option) (*Validator, error) {
	cfg = cfg.withDefaults()

	v := &Validator{
		cfg:    cfg,
		logger: auth.NewLogrusLogger(nil, "campus.jwks"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	given := make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
	for kid, key := range cfg.SigningKeys {
		given[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{
			Algorithm: key.Algorithm,
		})
	}

	switch {
	case cfg.JWKSetURL != "":
		keys, err := keyfunc.Get(cfg.JWKSetURL, keyfunc.Options{
			GivenKeys: given,
			RefreshErrorHandler: func(err error) {
				v.logger.Warn("failed to refresh key set %s: %v", cfg.JWKSetURL, err)
			},
			RefreshInterval:   cfg.RefreshInterval,
			RefreshRateLimit:  5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, fmt.Errorf("jwks: fetch key set: %w", err)
		}
		v.keys = keys
	case len(given) > 0:
		v.keys = keyfunc.NewGiven(given)
	default:
		return nil, fmt.Errorf("jwks: a key set url or signing keys are required")
	}

	return v, nil
}

// SessionFromToken verifies token and maps its claims to a session
func (v *Validator) SessionFromToken(ctx context.Context, token string) (*auth.Session, error) {
	token = strings.TrimSpace(token)

	session, err := v.verify(token)
	if err == nil {
		return session, nil
	}

	if v.fallback != nil && !auth.HasTextCode(err, TextCodeTokenExpired) {
		if session, ferr := v.fallback.SessionFromToken(ctx, token); ferr == nil {
			return session, nil
		}
	}

	return nil, auth.NewCredentialError(err)
}

// Close stops the background key set refresh
func (v *Validator) Close() {
	if v.keys != nil {
		v.keys.EndBackground()
	}
}

func (v *Validator) verify(token string) (*auth.Session, error) {
	if token == "" {
		return nil, ErrTokenMalformed
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(v.now),
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(v.cfg.Audience))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keys.Keyfunc, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(errors.CodeUnauthorized)
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}

	subject, _ := claims.GetSubject()
	if strings.TrimSpace(subject) == "" {
		return nil, ErrNoSubject
	}

	session := &auth.Session{
		AccessToken: token,
		Principal: auth.Principal{
			ID:       subject,
			Metadata: map[string]any{"issuer": claimString(claims, "iss")},
		},
	}
	if email, ok := claims[v.cfg.EmailClaim].(string); ok {
		session.Principal.Email = strings.ToLower(strings.TrimSpace(email))
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		session.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
	}

	return session, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
