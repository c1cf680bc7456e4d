package auth

import (
	"sort"
	"strings"
)

// Decision is the outcome of an access check
type Decision string

const (
	Allow                  Decision = "allow"
	RedirectToLogin        Decision = "redirect-to-login"
	RedirectToPending      Decision = "redirect-to-pending"
	RedirectToUnauthorized Decision = "redirect-to-unauthorized"
)

// Default redirect targets for each non allow decision
const (
	LoginPath        = "/login"
	PendingPath      = "/pending-approval"
	UnauthorizedPath = "/unauthorized"
)

// IsAllowed is true only for Allow
func (d Decision) IsAllowed() bool {
	return d == Allow
}

// RedirectPath returns where a denied request should be sent.
// Allow returns an empty path.
func (d Decision) RedirectPath() string {
	switch d {
	case Allow:
		return ""
	case RedirectToLogin:
		return LoginPath
	case RedirectToPending:
		return PendingPath
	default:
		return UnauthorizedPath
	}
}

// Decide is the single access authority for protected views.
// It is total and has no side effects: unknown requirements are
// treated as admin only and unknown statuses or roles never allow.
func Decide(profile *Profile, req RouteRequirement) Decision {
	if !req.IsValid() {
		req = RequireAdmin
	}

	if req == RequireNone {
		return Allow
	}

	if profile == nil {
		return RedirectToLogin
	}

	switch profile.Status {
	case ProfileStatusActive:
		if profile.Role.Satisfies(req) {
			return Allow
		}
		return RedirectToUnauthorized
	case ProfileStatusPending:
		return RedirectToPending
	case ProfileStatusRejected, ProfileStatusSuspended:
		return RedirectToUnauthorized
	default:
		return RedirectToUnauthorized
	}
}

// RouteTable maps console paths to their requirement
type RouteTable struct {
	routes   map[string]RouteRequirement
	fallback RouteRequirement
}

// DefaultRouteTable returns the console route requirements
func DefaultRouteTable() *RouteTable {
	return NewRouteTable(RequireAuthenticated, map[string]RouteRequirement{
		"/login":            RequireNone,
		"/signup":           RequireNone,
		"/pending-approval": RequireNone,
		"/unauthorized":     RequireNone,
		"/dashboard":        RequireAuthenticated,
		"/approvals":        RequireAdmin,
		"/branches":         RequireAdmin,
		"/staff":            RequireStaff,
		"/students":         RequireStaff,
		"/classrooms":       RequireStaff,
		"/libraries/books":  RequireStaff,
		"/reports":          RequireStaff,
	})
}

// NewRouteTable creates a table, paths not listed resolve to fallback
func NewRouteTable(fallback RouteRequirement, routes map[string]RouteRequirement) *RouteTable {
	t := &RouteTable{
		routes:   make(map[string]RouteRequirement, len(routes)),
		fallback: fallback,
	}
	for path, req := range routes {
		t.Set(path, req)
	}
	return t
}

// Set registers the requirement for path and everything below it
func (t *RouteTable) Set(path string, req RouteRequirement) *RouteTable {
	t.routes[normalizePath(path)] = req
	return t
}

// Requirement resolves the requirement for a request path using the
// longest registered prefix
func (t *RouteTable) Requirement(path string) RouteRequirement {
	path = normalizePath(path)
	if req, ok := t.routes[path]; ok {
		return req
	}

	for _, prefix := range t.prefixes() {
		if strings.HasPrefix(path, prefix+"/") {
			return t.routes[prefix]
		}
	}

	return t.fallback
}

// Decide resolves the path requirement and runs Decide
func (t *RouteTable) Decide(profile *Profile, path string) Decision {
	return Decide(profile, t.Requirement(path))
}

func (t *RouteTable) prefixes() []string {
	out := make([]string, 0, len(t.routes))
	for p := range t.routes {
		if p != "/" {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
