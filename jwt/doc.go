// Package jwt is the token issuer. It keeps three HS256 signing contexts
// (access, refresh and password reset), each with its own secret and lifetime,
// and reports expired tokens separately from invalid ones.
package jwt
