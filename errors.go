package auth

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeCredentialRejected       = "CREDENTIAL_REJECTED"
	TextCodeProfileWriteFailed       = "PROFILE_WRITE_FAILED"
	TextCodeStoreFailure             = "STORE_FAILURE"
	TextCodeNotFound                 = "NOT_FOUND"
	TextCodeUnauthorized             = "UNAUTHORIZED"
	TextCodeInvalidProfileTransition = "INVALID_PROFILE_TRANSITION"
	TextCodeTerminalProfileState     = "TERMINAL_PROFILE_STATE"
	TextCodeInvalidRegistration      = "INVALID_REGISTRATION"
	TextCodeInvalidDecision          = "INVALID_APPROVAL_DECISION"
)

// ErrCredential is returned when the identity provider rejects credentials
var ErrCredential = goerrors.New("the credentials provided were rejected", goerrors.CategoryAuth).
	WithTextCode(TextCodeCredentialRejected).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileWrite is returned when a profile or its approval request could not be stored
var ErrProfileWrite = goerrors.New("unable to store profile", goerrors.CategoryOperation).
	WithTextCode(TextCodeProfileWriteFailed).
	WithCode(goerrors.CodeInternal)

// ErrStore is returned for any other persistence failure
var ErrStore = goerrors.New("store operation failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeStoreFailure).
	WithCode(goerrors.CodeInternal)

// ErrNotFound is returned when the target does not exist or is no longer pending
var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUnauthorized is returned when the caller lacks the required role or status
var ErrUnauthorized = goerrors.New("caller is not allowed to perform this action", goerrors.CategoryAuthz).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidTransition is returned when a requested status change is not allowed
var ErrInvalidTransition = goerrors.New("invalid profile state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidProfileTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move away from rejected
var ErrTerminalState = goerrors.New("profile state is terminal", goerrors.CategoryConflict).
	WithTextCode(TextCodeTerminalProfileState).
	WithCode(goerrors.CodeConflict)

// ErrInvalidRegistration is returned when the signup submission fails validation
var ErrInvalidRegistration = goerrors.New("invalid registration", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRegistration).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidDecision is returned for decisions other than approve or reject
var ErrInvalidDecision = goerrors.New("invalid approval decision", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidDecision).
	WithCode(goerrors.CodeBadRequest)

// NewCredentialError wraps an identity provider rejection
func NewCredentialError(err error, metadata ...map[string]any) *goerrors.Error {
	return wrapAs(err, ErrCredential, goerrors.CodeUnauthorized, metadata...)
}

// NewProfileWriteError wraps a failed profile or approval request write
func NewProfileWriteError(err error, metadata ...map[string]any) *goerrors.Error {
	return wrapAs(err, ErrProfileWrite, goerrors.CodeInternal, metadata...)
}

// NewStoreError wraps a generic persistence failure
func NewStoreError(err error, metadata ...map[string]any) *goerrors.Error {
	return wrapAs(err, ErrStore, goerrors.CodeInternal, metadata...)
}

// NewNotFoundError builds a not found error carrying the lookup metadata
func NewNotFoundError(message string, metadata ...map[string]any) *goerrors.Error {
	if message == "" {
		message = ErrNotFound.Message
	}
	return withMetadata(
		goerrors.New(message, ErrNotFound.Category).
			WithTextCode(ErrNotFound.TextCode).
			WithCode(goerrors.CodeNotFound),
		metadata...,
	)
}

// NewUnauthorizedError builds an unauthorized error carrying the actor metadata
func NewUnauthorizedError(message string, metadata ...map[string]any) *goerrors.Error {
	if message == "" {
		message = ErrUnauthorized.Message
	}
	return withMetadata(
		goerrors.New(message, ErrUnauthorized.Category).
			WithTextCode(ErrUnauthorized.TextCode).
			WithCode(goerrors.CodeForbidden),
		metadata...,
	)
}

func newInvalidTransitionError(metadata map[string]any) *goerrors.Error {
	return goerrors.New(ErrInvalidTransition.Message, ErrInvalidTransition.Category).
		WithTextCode(ErrInvalidTransition.TextCode).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(metadata)
}

func newTerminalStateError(metadata map[string]any) *goerrors.Error {
	return goerrors.New(ErrTerminalState.Message, ErrTerminalState.Category).
		WithTextCode(ErrTerminalState.TextCode).
		WithCode(goerrors.CodeConflict).
		WithMetadata(metadata)
}

// IsCredentialError reports whether err is, or wraps, a credential rejection
func IsCredentialError(err error) bool { return HasTextCode(err, TextCodeCredentialRejected) }

// IsProfileWriteError reports whether err is, or wraps, a profile write failure
func IsProfileWriteError(err error) bool { return HasTextCode(err, TextCodeProfileWriteFailed) }

// IsStoreError reports whether err is, or wraps, a store failure
func IsStoreError(err error) bool { return HasTextCode(err, TextCodeStoreFailure) }

// IsNotFoundError reports whether err is, or wraps, a not found error
func IsNotFoundError(err error) bool { return HasTextCode(err, TextCodeNotFound) }

// IsUnauthorizedError reports whether err is, or wraps, an unauthorized error
func IsUnauthorizedError(err error) bool { return HasTextCode(err, TextCodeUnauthorized) }

// IsInvalidTransitionError reports whether err is an invalid or terminal transition
func IsInvalidTransitionError(err error) bool {
	return HasTextCode(err, TextCodeInvalidProfileTransition) || HasTextCode(err, TextCodeTerminalProfileState)
}

// HasTextCode walks the error chain looking for a rich error with the given text code
func HasTextCode(err error, code string) bool {
	for err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			return false
		}
		if richErr.TextCode == code {
			return true
		}
		err = richErr.Source
	}
	return false
}

// IsRateLimited reports whether any rich error in the chain is a rate limit
func IsRateLimited(err error) bool {
	_, ok := findRateLimit(err)
	return ok
}

func findRateLimit(err error) (*goerrors.Error, bool) {
	for err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			return nil, false
		}
		if richErr.Category == goerrors.CategoryRateLimit {
			return richErr, true
		}
		err = richErr.Source
	}
	return nil, false
}

// wrapAs returns err as a kind error. A rich source of another kind is kept
// as Source so its text code and status stay reachable.
func wrapAs(err error, kind *goerrors.Error, code int, metadata ...map[string]any) *goerrors.Error {
	var richErr *goerrors.Error
	if err != nil && goerrors.As(err, &richErr) && richErr.TextCode == kind.TextCode {
		return withMetadata(richErr, metadata...)
	}

	wrapped := goerrors.New(kind.Message, kind.Category).
		WithTextCode(kind.TextCode).
		WithCode(code)
	wrapped.Source = err

	return withMetadata(wrapped, metadata...)
}

func withMetadata(err *goerrors.Error, metadata ...map[string]any) *goerrors.Error {
	for _, m := range metadata {
		if len(m) > 0 {
			err = err.WithMetadata(m)
		}
	}
	return err
}
