package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/stretchr/testify/assert"
)

func TestSessionStateContext(t *testing.T) {
	_, ok := auth.SessionStateFromContext(context.Background())
	assert.False(t, ok)

	profile := activeProfile(auth.RoleStaff)
	ctx := auth.WithSessionState(context.Background(), auth.SessionState{Profile: profile})

	state, ok := auth.SessionStateFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, profile, state.Profile)

	got, ok := auth.ProfileFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, profile, got)

	_, ok = auth.ProfileFromContext(auth.WithSessionState(context.Background(), auth.SessionState{}))
	assert.False(t, ok)
}

func TestCan(t *testing.T) {
	tests := []struct {
		name    string
		profile *auth.Profile
		req     auth.RouteRequirement
		want    bool
	}{
		{"no state on public route", nil, auth.RequireNone, true},
		{"no state on authenticated route", nil, auth.RequireAuthenticated, false},
		{"staff on staff route", activeProfile(auth.RoleStaff), auth.RequireStaff, true},
		{"staff on admin route", activeProfile(auth.RoleStaff), auth.RequireAdmin, false},
		{"pending admin", &auth.Profile{Role: auth.RoleAdmin, Status: auth.ProfileStatusPending}, auth.RequireAdmin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.profile != nil {
				ctx = auth.WithSessionState(ctx, auth.SessionState{Profile: tt.profile})
			}
			assert.Equal(t, tt.want, auth.Can(ctx, tt.req))
		})
	}
}

func TestResolverContext(t *testing.T) {
	_, ok := auth.ResolverFromContext(context.Background())
	assert.False(t, ok)

	r := auth.NewSessionResolver(newFakeSessionProvider(nil), newGatedProfileFinder())
	defer r.Close()

	got, ok := auth.ResolverFromContext(auth.WithResolver(context.Background(), r))
	assert.True(t, ok)
	assert.Same(t, r, got)

	_, ok = auth.ResolverFromContext(auth.WithResolver(context.Background(), nil))
	assert.False(t, ok)
}
