package local

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeEmailExists      = "local_email_exists"
	TextCodeWeakPassword     = "local_weak_password"
	TextCodeInvalidLogin     = "local_invalid_credentials"
	TextCodeTooManyAttempts  = "local_too_many_attempts"
	TextCodeNoSession        = "local_no_session"
	TextCodeTokenExpired     = "local_token_expired"
	TextCodeTokenMalformed   = "local_token_malformed"
	TextCodePrincipalMissing = "local_principal_not_found"
)

// ErrEmailAlreadyExists is returned when a principal with the email already exists.
var ErrEmailAlreadyExists = errors.New("email already registered", errors.CategoryValidation).
	WithTextCode(TextCodeEmailExists).
	WithCode(errors.CodeConflict)

// ErrWeakPassword is returned when the password does not meet the minimum length.
var ErrWeakPassword = errors.New("password is too weak", errors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(errors.CodeBadRequest)

// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidLogin).
	WithCode(errors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned while a principal is cooling down.
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(http.StatusTooManyRequests)

// ErrNoSession is returned when an operation needs a current session.
var ErrNoSession = errors.New("no active session", errors.CategoryAuth).
	WithTextCode(TextCodeNoSession).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned for expired session tokens.
var ErrTokenExpired = errors.New("session token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that fail to parse or verify.
var ErrTokenMalformed = errors.New("session token malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrPrincipalNotFound is returned when a token refers to a deleted principal.
var ErrPrincipalNotFound = errors.New("principal not found", errors.CategoryNotFound).
	WithTextCode(TextCodePrincipalMissing).
	WithCode(errors.CodeNotFound)
