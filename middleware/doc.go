// Package middleware adapts posauth.Engine to net/http.
//
// # Chain
//
//   - [ClientContext] records the caller's IP and User-Agent for throttling,
//     audit and reset emails.
//   - [Guard] requires a bearer access token whose account may still sign in.
//     [GuardStateless] checks the token alone, without a store read.
//   - [RequireRoles] admits callers whose role satisfies any listed role.
//   - [ProtectAdminTargets] stops managers from acting on admin accounts.
//
// [WriteError] is the single place engine errors become HTTP statuses.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Make authorization decisions other than through permission.Hierarchies.
package middleware
