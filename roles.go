package auth

import "strings"

// Role is the organizational role of a profile. It is fixed at
// registration time and only an approval role override changes it.
type Role string

const (
	// RoleAdmin manages approvals, branches and every staff screen
	RoleAdmin Role = "admin"
	// RoleStaff manages staff, students, classrooms, library and reports
	RoleStaff Role = "staff"
	// RoleStudent may only access authenticated routes
	RoleStudent Role = "student"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleStudent:
		return true
	default:
		return false
	}
}

// Satisfies checks if this role meets the given route requirement.
// Staff routes admit staff and admin, admin routes admit only admin.
func (r Role) Satisfies(req RouteRequirement) bool {
	if !r.IsValid() {
		return false
	}

	switch req {
	case RequireNone, RequireAuthenticated:
		return true
	case RequireStaff:
		return r == RoleStaff || r == RoleAdmin
	case RequireAdmin:
		return r == RoleAdmin
	default:
		return false
	}
}

// GetAllRoles returns all predefined roles, most privileged first
func GetAllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleStaff,
		RoleStudent,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(roleStr string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(roleStr)))
	return role, role.IsValid()
}

// RouteRequirement is the access level a route demands
type RouteRequirement string

const (
	RequireNone          RouteRequirement = "none"
	RequireAuthenticated RouteRequirement = "authenticated"
	RequireStaff         RouteRequirement = "require_staff"
	RequireAdmin         RouteRequirement = "require_admin"
)

// IsValid reports whether the requirement is known
func (r RouteRequirement) IsValid() bool {
	switch r {
	case RequireNone, RequireAuthenticated, RequireStaff, RequireAdmin:
		return true
	default:
		return false
	}
}
