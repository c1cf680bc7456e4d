package jwks_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-campus-auth/provider/jwks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

var hmacKey = []byte("hosted-identity-service-test-key")

func signHS256(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(hmacKey)
	require.NoError(t, err)
	return signed
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "principal-42",
		"email": "Ada@School.edu",
		"iss":   "https://id.school.edu/",
		"aud":   "campus",
		"iat":   fixedNow.Add(-time.Minute).Unix(),
		"exp":   fixedNow.Add(time.Hour).Unix(),
	}
}

func newGivenValidator(t *testing.T, opts ...jwks.Option) *jwks.Validator {
	t.Helper()
	cfg := jwks.Config{
		SigningKeys: map[string]jwks.SigningKey{
			"k1": {Key: hmacKey, Algorithm: jwt.SigningMethodHS256.Alg()},
		},
		Algorithms: []string{jwt.SigningMethodHS256.Alg()},
		Issuer:     "https://id.school.edu/",
		Audience:   "campus",
	}
	v, err := jwks.New(cfg, append([]jwks.Option{jwks.WithClock(fixedClock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func TestNewRequiresKeys(t *testing.T) {
	_, err := jwks.New(jwks.Config{})
	assert.Error(t, err)
}

func TestSessionFromToken(t *testing.T) {
	v := newGivenValidator(t)

	session, err := v.SessionFromToken(context.Background(), signHS256(t, "k1", baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "principal-42", session.Principal.ID)
	assert.Equal(t, "ada@school.edu", session.Principal.Email)
	assert.Equal(t, fixedNow.Add(time.Hour), session.ExpiresAt)
	assert.Equal(t, fixedNow.Add(-time.Minute), session.IssuedAt)
	assert.Equal(t, "https://id.school.edu/", session.Principal.Metadata["issuer"])
}

func TestSessionFromTokenRejects(t *testing.T) {
	v := newGivenValidator(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		token    func() string
		textCode string
	}{
		{
			name:     "empty",
			token:    func() string { return "" },
			textCode: jwks.TextCodeTokenMalformed,
		},
		{
			name:     "garbage",
			token:    func() string { return "not-a-token" },
			textCode: jwks.TextCodeTokenMalformed,
		},
		{
			name: "expired",
			token: func() string {
				claims := baseClaims()
				claims["exp"] = fixedNow.Add(-time.Minute).Unix()
				return signHS256(t, "k1", claims)
			},
			textCode: jwks.TextCodeTokenExpired,
		},
		{
			name: "no expiry",
			token: func() string {
				claims := baseClaims()
				delete(claims, "exp")
				return signHS256(t, "k1", claims)
			},
			textCode: jwks.TextCodeTokenMalformed,
		},
		{
			name: "wrong issuer",
			token: func() string {
				claims := baseClaims()
				claims["iss"] = "https://evil.example/"
				return signHS256(t, "k1", claims)
			},
			textCode: jwks.TextCodeTokenMalformed,
		},
		{
			name: "wrong audience",
			token: func() string {
				claims := baseClaims()
				claims["aud"] = "library"
				return signHS256(t, "k1", claims)
			},
			textCode: jwks.TextCodeTokenMalformed,
		},
		{
			name:     "unknown kid",
			token:    func() string { return signHS256(t, "k2", baseClaims()) },
			textCode: jwks.TextCodeTokenMalformed,
		},
		{
			name: "missing subject",
			token: func() string {
				claims := baseClaims()
				delete(claims, "sub")
				return signHS256(t, "k1", claims)
			},
			textCode: jwks.TextCodeNoSubject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.SessionFromToken(ctx, tt.token())
			require.Error(t, err)
			assert.True(t, auth.IsCredentialError(err))
			assert.True(t, auth.HasTextCode(err, tt.textCode), "expected %s in %v", tt.textCode, err)
		})
	}
}

type staticValidator map[string]*auth.Session

func (s staticValidator) SessionFromToken(_ context.Context, token string) (*auth.Session, error) {
	if session, ok := s[token]; ok {
		return session, nil
	}
	return nil, auth.NewCredentialError(nil)
}

func TestSessionFromTokenFallback(t *testing.T) {
	local := &auth.Session{AccessToken: "local-token", Principal: auth.Principal{ID: "local-1"}}
	v := newGivenValidator(t, jwks.WithFallback(staticValidator{"local-token": local}))
	ctx := context.Background()

	session, err := v.SessionFromToken(ctx, "local-token")
	require.NoError(t, err)
	assert.Equal(t, "local-1", session.Principal.ID)

	_, err = v.SessionFromToken(ctx, "unknown-token")
	assert.True(t, auth.HasTextCode(err, jwks.TextCodeTokenMalformed))

	claims := baseClaims()
	claims["exp"] = fixedNow.Add(-time.Minute).Unix()
	_, err = v.SessionFromToken(ctx, signHS256(t, "k1", claims))
	assert.True(t, auth.HasTextCode(err, jwks.TextCodeTokenExpired))
}

func TestSessionFromTokenWithKeySetURL(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": "rsa-1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	defer server.Close()

	v, err := jwks.New(jwks.DefaultConfig(server.URL), jwks.WithClock(fixedClock))
	require.NoError(t, err)
	defer v.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, baseClaims())
	token.Header["kid"] = "rsa-1"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	session, err := v.SessionFromToken(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "principal-42", session.Principal.ID)

	_, err = v.SessionFromToken(context.Background(), signHS256(t, "rsa-1", baseClaims()))
	assert.True(t, auth.HasTextCode(err, jwks.TextCodeTokenMalformed))
}

func TestKeySetURLUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	_, err := jwks.New(jwks.DefaultConfig(server.URL))
	assert.Error(t, err)
}
