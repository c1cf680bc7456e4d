package auth

import (
	"testing"
)

func TestProfileEnsureStatusDefaultsToPending(t *testing.T) {
	p := &Profile{}

	p.EnsureStatus()

	if p.Status != ProfileStatusPending {
		t.Fatalf("expected default status %q, got %q", ProfileStatusPending, p.Status)
	}
}

func TestProfileStatusHelpers(t *testing.T) {
	cases := []struct {
		name         string
		status       ProfileStatus
		check        func(*Profile) bool
		expectResult bool
	}{
		{name: "pending", status: ProfileStatusPending, check: (*Profile).IsPending, expectResult: true},
		{name: "active", status: ProfileStatusActive, check: (*Profile).IsActive, expectResult: true},
		{name: "rejected", status: ProfileStatusRejected, check: (*Profile).IsRejected, expectResult: true},
		{name: "suspended", status: ProfileStatusSuspended, check: (*Profile).IsSuspended, expectResult: true},
		{name: "active is not pending", status: ProfileStatusActive, check: (*Profile).IsPending, expectResult: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &Profile{Status: tc.status}
			if got := tc.check(p); got != tc.expectResult {
				t.Fatalf("expected %v, got %v", tc.expectResult, got)
			}
		})
	}

	var nilProfile *Profile
	if nilProfile.IsActive() || nilProfile.HasRole(RoleAdmin) {
		t.Fatalf("nil profile must not report active or admin")
	}
}

func TestProfileNameSplit(t *testing.T) {
	cases := []struct {
		full, first, last string
	}{
		{"Ada Lovelace", "Ada", "Lovelace"},
		{"  Grace   Brewster Hopper ", "Grace", "Brewster Hopper"},
		{"Plato", "Plato", ""},
		{"", "", ""},
	}

	for _, tc := range cases {
		p := &Profile{FullName: tc.full}
		if p.FirstName() != tc.first || p.LastName() != tc.last {
			t.Fatalf("%q: expected (%q, %q), got (%q, %q)", tc.full, tc.first, tc.last, p.FirstName(), p.LastName())
		}
	}
}

func TestParseRole(t *testing.T) {
	if role, ok := ParseRole(" Staff "); !ok || role != RoleStaff {
		t.Fatalf("expected staff, got %q (%v)", role, ok)
	}
	if _, ok := ParseRole("janitor"); ok {
		t.Fatalf("janitor must not parse as a role")
	}
}

func TestRoleSatisfies(t *testing.T) {
	if !RoleAdmin.Satisfies(RequireStaff) {
		t.Fatalf("admin must satisfy staff routes")
	}
	if RoleStaff.Satisfies(RequireAdmin) {
		t.Fatalf("staff must not satisfy admin routes")
	}
	if RoleStudent.Satisfies(RequireStaff) {
		t.Fatalf("student must not satisfy staff routes")
	}
	if Role("guest").Satisfies(RequireAuthenticated) {
		t.Fatalf("unknown roles satisfy nothing")
	}
}

func TestApprovalDecisionOutcomes(t *testing.T) {
	if DecisionApprove.ApprovalStatus() != ApprovalStatusApproved || DecisionApprove.ProfileStatus() != ProfileStatusActive {
		t.Fatalf("approve must lead to approved/active")
	}
	if DecisionReject.ApprovalStatus() != ApprovalStatusRejected || DecisionReject.ProfileStatus() != ProfileStatusRejected {
		t.Fatalf("reject must lead to rejected/rejected")
	}
	if _, ok := ParseApprovalDecision("maybe"); ok {
		t.Fatalf("maybe is not a decision")
	}
	if !ApprovalStatusApproved.IsTerminal() || ApprovalStatusPending.IsTerminal() {
		t.Fatalf("unexpected terminal flags")
	}
}

func TestSessionPrincipalIDNilSafe(t *testing.T) {
	var s *Session
	if s.PrincipalID() != "" {
		t.Fatalf("nil session must have no principal")
	}
}
