// Package auth resolves who is signed in to the school console and gates
// every route on the caller's profile, plus the registration and approval
// workflows that create and activate those profiles.
//
// Identity and profiles:
//   - The IdentityProvider owns credentials and sessions. This package only
//     consumes it; provider/local is a bcrypt + JWT implementation backed by
//     the same database.
//   - A Profile is the organizational record bound to one principal. Its
//     status (pending, active, rejected, suspended) is the authoritative
//     access gate. Role only matters once the profile is active.
//
// Session resolution:
//   - SessionResolver follows provider session changes and keeps a single
//     SessionState. A change that arrives while a profile lookup is in flight
//     supersedes it; the older result is never applied.
//
// Registration and approval:
//   - RegisterUserHandler creates the principal, then the pending profile and
//     approval request in one transaction. When that transaction fails the
//     principal is removed again, and OrphanReconciler sweeps whatever a failed
//     compensation left behind.
//   - ReviewApprovalHandler decides a pending request and moves the profile
//     through ProfileStateMachine in the same transaction. A request can be
//     decided once.
//
// Access:
//   - Decide is a pure function of profile and RouteRequirement. RouteGuard
//     applies it to fiber routes using a RouteTable.
//
// Activity sinks:
//   - ActivitySink receives lifecycle, session and access events best-effort
//     (errors are logged). See activitymap and observability for Redis and
//     Prometheus sinks.
package auth
