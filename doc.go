// Package posauth is the identity and access core of the back-office API:
// credential verification with brute-force lockout, an access/refresh session
// lifecycle with rotation and revocation, three-step password recovery, and
// role authorization over overlapping hierarchies.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// posauth is the public surface. It exposes [Engine], [Builder], [Config], the
// error kinds in errors.go and small value types. Persistence sits behind
// [account.Store]; email delivery behind [mail.Sender]. Throttling, audit
// dispatch and helpers live under internal/ and are never exported.
//
// # State
//
// The account record is the only shared mutable state. There is no
// in-process session cache: a session is the single refresh-token hash
// stored on the account, and issuing a new one supersedes the old.
//
// # Errors
//
// Every expected outcome is one of the sentinel errors in this package and is
// meant to be mapped to a 4xx response (see middleware.WriteError). Anything
// else is internal, logged with context, and must be reported without detail.
package posauth
