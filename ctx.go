package auth

import (
	"context"
)

var sessionStateCtxKey = &contextKey{"session_state"}
var resolverCtxKey = &contextKey{"session_resolver"}

type contextKey struct {
	name string
}

// WithSessionState sets the resolved session state in the given context
func WithSessionState(ctx context.Context, state SessionState) context.Context {
	return context.WithValue(ctx, sessionStateCtxKey, state)
}

// SessionStateFromContext finds the resolved session state in the context
func SessionStateFromContext(ctx context.Context) (SessionState, bool) {
	raw, ok := ctx.Value(sessionStateCtxKey).(SessionState)
	return raw, ok
}

// ProfileFromContext returns the profile of the resolved session, if any
func ProfileFromContext(ctx context.Context) (*Profile, bool) {
	state, ok := SessionStateFromContext(ctx)
	if !ok || state.Profile == nil {
		return nil, false
	}
	return state.Profile, true
}

// WithResolver sets the SessionResolver in the given context
func WithResolver(ctx context.Context, r *SessionResolver) context.Context {
	return context.WithValue(ctx, resolverCtxKey, r)
}

// ResolverFromContext finds the SessionResolver in the context
func ResolverFromContext(ctx context.Context) (*SessionResolver, bool) {
	raw, ok := ctx.Value(resolverCtxKey).(*SessionResolver)
	return raw, ok && raw != nil
}

// Can reports whether the session state in ctx satisfies the requirement
func Can(ctx context.Context, req RouteRequirement) bool {
	state, _ := SessionStateFromContext(ctx)
	return Decide(state.Profile, req).IsAllowed()
}
