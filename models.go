package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProfileStatus is the authoritative access gate for a profile
type ProfileStatus string

const (
	// ProfileStatusPending is the status of every freshly registered profile
	ProfileStatusPending ProfileStatus = "pending"
	// ProfileStatusActive profiles may access role scoped routes
	ProfileStatusActive ProfileStatus = "active"
	// ProfileStatusRejected is terminal, set when an admin rejects the registration
	ProfileStatusRejected ProfileStatus = "rejected"
	// ProfileStatusSuspended profiles were active and have been blocked by an admin
	ProfileStatusSuspended ProfileStatus = "suspended"
)

// IsValid reports whether the status is one of the known statuses
func (s ProfileStatus) IsValid() bool {
	switch s {
	case ProfileStatusPending, ProfileStatusActive, ProfileStatusRejected, ProfileStatusSuspended:
		return true
	default:
		return false
	}
}

// ParseProfileStatus safely parses a string into a ProfileStatus
func ParseProfileStatus(raw string) (ProfileStatus, bool) {
	status := ProfileStatus(strings.ToLower(strings.TrimSpace(raw)))
	return status, status.IsValid()
}

// ApprovalStatus tracks the review outcome of a registration
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// IsValid reports whether the status is one of the known statuses
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal is true once an admin decided the request
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected
}

// ApprovalDecision is the admin verdict on an approval request
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
)

// IsValid reports whether the decision is approve or reject
func (d ApprovalDecision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ParseApprovalDecision safely parses a string into an ApprovalDecision
func ParseApprovalDecision(raw string) (ApprovalDecision, bool) {
	decision := ApprovalDecision(strings.ToLower(strings.TrimSpace(raw)))
	return decision, decision.IsValid()
}

// ApprovalStatus returns the request status the decision leads to
func (d ApprovalDecision) ApprovalStatus() ApprovalStatus {
	if d == DecisionApprove {
		return ApprovalStatusApproved
	}
	return ApprovalStatusRejected
}

// ProfileStatus returns the profile status the decision leads to
func (d ApprovalDecision) ProfileStatus() ProfileStatus {
	if d == DecisionApprove {
		return ProfileStatusActive
	}
	return ProfileStatusRejected
}

// Profile is the organizational record bound to a principal
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	PrincipalID   string        `bun:"principal_id,notnull,unique" json:"principal_id,omitempty"`
	Email         string        `bun:"email,notnull" json:"email,omitempty"`
	FullName      string        `bun:"full_name" json:"full_name,omitempty"`
	Phone         string        `bun:"phone_number" json:"phone_number,omitempty"`
	Role          Role          `bun:"role,notnull" json:"role,omitempty"`
	Status        ProfileStatus `bun:"status,notnull" json:"status,omitempty"`
	SuspendedAt   *time.Time    `bun:"suspended_at,nullzero" json:"suspended_at,omitempty"`
	CreatedAt     *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time    `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus defaults a blank status to pending so an unset
// record never passes an access check
func (p *Profile) EnsureStatus() {
	if p == nil {
		return
	}
	if p.Status == "" {
		p.Status = ProfileStatusPending
	}
}

func (p *Profile) IsPending() bool   { return p != nil && p.Status == ProfileStatusPending }
func (p *Profile) IsActive() bool    { return p != nil && p.Status == ProfileStatusActive }
func (p *Profile) IsRejected() bool  { return p != nil && p.Status == ProfileStatusRejected }
func (p *Profile) IsSuspended() bool { return p != nil && p.Status == ProfileStatusSuspended }

// HasRole reports whether the profile carries the given role
func (p *Profile) HasRole(role Role) bool {
	return p != nil && p.Role == role
}

// FirstName returns the first word of the full name
func (p *Profile) FirstName() string {
	if p == nil {
		return ""
	}
	first, _ := splitFullName(p.FullName)
	return first
}

// LastName returns everything after the first word of the full name
func (p *Profile) LastName() string {
	if p == nil {
		return ""
	}
	_, last := splitFullName(p.FullName)
	return last
}

func splitFullName(fullName string) (string, string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// ApprovalRequest is the auditable record of one registration review.
// SubmittedPayload is a snapshot of the signup form and is never updated.
type ApprovalRequest struct {
	bun.BaseModel      `bun:"table:approval_requests,alias:apr"`
	ID                 uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	RequesterProfileID uuid.UUID      `bun:"requester_profile_id,notnull,type:uuid" json:"requester_profile_id,omitempty"`
	Requester          *Profile       `bun:"rel:belongs-to,join:requester_profile_id=id" json:"requester,omitempty"`
	TargetRole         Role           `bun:"target_role,notnull" json:"target_role,omitempty"`
	GrantedRole        Role           `bun:"granted_role,nullzero" json:"granted_role,omitempty"`
	Status             ApprovalStatus `bun:"status,notnull" json:"status,omitempty"`
	SubmittedPayload   map[string]any `bun:"submitted_payload" json:"submitted_payload,omitempty"`
	ReviewedBy         *uuid.UUID     `bun:"reviewed_by,nullzero,type:uuid" json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time     `bun:"reviewed_at,nullzero" json:"reviewed_at,omitempty"`
	ReviewNote         string         `bun:"review_note" json:"review_note,omitempty"`
	CreatedAt          *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsPending reports whether the request still awaits a decision
func (r *ApprovalRequest) IsPending() bool {
	return r != nil && r.Status == ApprovalStatusPending
}

// Principal is the identity issued by the identity provider
type Principal struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Session is an authenticated session issued by the identity provider
type Session struct {
	AccessToken string    `json:"access_token"`
	Principal   Principal `json:"principal"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// PrincipalID returns the principal bound to the session, empty for nil sessions
func (s *Session) PrincipalID() string {
	if s == nil {
		return ""
	}
	return s.Principal.ID
}
