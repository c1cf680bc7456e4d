package auth_test

import (
	"errors"
	"testing"

	auth "github.com/goliatone/go-campus-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"credential", auth.NewCredentialError(cause), auth.IsCredentialError},
		{"profile write", auth.NewProfileWriteError(cause), auth.IsProfileWriteError},
		{"store", auth.NewStoreError(cause), auth.IsStoreError},
		{"not found", auth.NewNotFoundError("missing"), auth.IsNotFoundError},
		{"unauthorized", auth.NewUnauthorizedError("nope"), auth.IsUnauthorizedError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(cause))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestNewCredentialErrorKeepsMetadata(t *testing.T) {
	err := auth.NewCredentialError(errors.New("bad password"), map[string]any{"email": "ada@school.edu"})

	assert.Equal(t, auth.TextCodeCredentialRejected, err.TextCode)
	assert.Equal(t, goerrors.CodeUnauthorized, err.Code)
	assert.Equal(t, "ada@school.edu", err.Metadata["email"])
}

func TestNewNotFoundErrorMessage(t *testing.T) {
	err := auth.NewNotFoundError("approval request not found", map[string]any{"request_id": "r1"})

	assert.Equal(t, "approval request not found", err.Message)
	assert.Equal(t, goerrors.CategoryNotFound, err.Category)
	assert.Equal(t, goerrors.CodeNotFound, err.Code)
	assert.Equal(t, "r1", err.Metadata["request_id"])
}

func TestHasTextCodeFindsWrappedCode(t *testing.T) {
	inner := auth.NewNotFoundError("gone")
	outer := auth.NewStoreError(inner)

	assert.True(t, auth.IsStoreError(outer))
	assert.True(t, auth.HasTextCode(outer, auth.TextCodeStoreFailure))
	assert.True(t, auth.IsNotFoundError(outer))
	assert.False(t, auth.HasTextCode(outer, auth.TextCodeUnauthorized))
}

func TestWrapKeepsInnerRichError(t *testing.T) {
	inner := goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
		WithTextCode("local_too_many_attempts").
		WithCode(429)

	outer := auth.NewCredentialError(inner, map[string]any{"email": "ada@school.edu"})

	assert.Equal(t, auth.TextCodeCredentialRejected, outer.TextCode)
	assert.Equal(t, goerrors.CodeUnauthorized, outer.Code)
	assert.Equal(t, "ada@school.edu", outer.Metadata["email"])
	assert.Same(t, inner, outer.Source)

	assert.Equal(t, "local_too_many_attempts", inner.TextCode)
	assert.Equal(t, 429, inner.Code)
	assert.True(t, auth.HasTextCode(outer, "local_too_many_attempts"))
	assert.True(t, auth.IsRateLimited(outer))
}

func TestStructuredErrorProperties(t *testing.T) {
	t.Run("ErrCredential", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, auth.ErrCredential.Category)
		assert.Equal(t, auth.TextCodeCredentialRejected, auth.ErrCredential.TextCode)
	})

	t.Run("ErrProfileWrite", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryOperation, auth.ErrProfileWrite.Category)
		assert.Equal(t, auth.TextCodeProfileWriteFailed, auth.ErrProfileWrite.TextCode)
	})

	t.Run("ErrUnauthorized", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuthz, auth.ErrUnauthorized.Category)
		assert.Equal(t, goerrors.CodeForbidden, auth.ErrUnauthorized.Code)
	})

	t.Run("ErrTerminalState", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryConflict, auth.ErrTerminalState.Category)
		assert.Equal(t, auth.TextCodeTerminalProfileState, auth.ErrTerminalState.TextCode)
	})
}

func TestIsRateLimited(t *testing.T) {
	limited := goerrors.New("slow down", goerrors.CategoryRateLimit).WithCode(429)

	assert.True(t, auth.IsRateLimited(limited))
	assert.True(t, auth.IsRateLimited(auth.NewCredentialError(limited)))
	assert.False(t, auth.IsRateLimited(auth.NewCredentialError(errors.New("bad password"))))
	assert.False(t, auth.IsRateLimited(errors.New("plain")))
	assert.False(t, auth.IsRateLimited(nil))
}
