// Package local is an in-process identity provider for go-campus-auth.
//
// Principals live in a bun "principals" table, passwords are hashed with
// bcrypt and sessions are HS256 JWTs. The provider keeps one current
// session, like a browser side identity client, and broadcasts every
// change to OnSessionChange subscribers in emission order.
//
// Besides auth.IdentityProvider it implements auth.SessionValidator,
// auth.AccountRemover and auth.AccountLister so registrations can be
// compensated and orphaned principals reconciled.
package local
