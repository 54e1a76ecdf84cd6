package posauth

import (
	"errors"

	"github.com/samber/oops"
)

// Client-facing error kinds. Every other error returned by Engine is internal
// and must be reported to callers without detail.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountLocked       = errors.New("account locked")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidResetCode    = errors.New("invalid reset code")
	ErrResetCodeExpired    = errors.New("reset code expired")
	ErrInvalidResetToken   = errors.New("invalid reset token")
	ErrResetTokenExpired   = errors.New("reset token expired")
	ErrInvalidAccessToken  = errors.New("invalid access token")
	ErrAccessTokenExpired  = errors.New("access token expired")
	ErrInvalidPassword     = errors.New("invalid password")
	ErrThrottled           = errors.New("too many requests")
	ErrForbidden           = errors.New("forbidden")

	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

var domainErrors = []error{
	ErrInvalidCredentials,
	ErrAccountLocked,
	ErrInvalidRefreshToken,
	ErrRefreshTokenExpired,
	ErrAccountNotFound,
	ErrInvalidResetCode,
	ErrResetCodeExpired,
	ErrInvalidResetToken,
	ErrResetTokenExpired,
	ErrInvalidAccessToken,
	ErrAccessTokenExpired,
	ErrInvalidPassword,
	ErrThrottled,
	ErrForbidden,
}

// IsDomainError reports whether err is one of the client-facing kinds above.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// internalError wraps an unexpected failure with an oops code so it is logged
// with context and reported to callers as opaque.
func internalError(code, operation string, err error) error {
	return oops.
		In("posauth").
		Code(code).
		With("operation", operation).
		Wrap(err)
}
