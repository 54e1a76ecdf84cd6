// Package account defines the account record this core reads and mutates and
// the store contract it is persisted through.
package account

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Store when no account matches the lookup key.
	ErrNotFound = errors.New("account: not found")
	// ErrConflict is returned by Update when a Patch precondition does not hold.
	ErrConflict = errors.New("account: precondition failed")
	// ErrDuplicate is returned when creating an account whose username or
	// email is taken.
	ErrDuplicate = errors.New("account: username or email already exists")
)

// Account is the persisted record. Nullable columns are pointers.
type Account struct {
	ID       string
	Username string
	Email    string
	// PasswordHash is an argon2id PHC string.
	PasswordHash string
	Role         string
	IsActive     bool
	IsDeleted    bool

	FailedLoginAttempts int
	LockoutExpiresAt    *time.Time

	// RefreshTokenHash is nil when the account has no live session.
	RefreshTokenHash *string

	ResetCode     *string
	ResetCodeExp  *time.Time
	ResetToken    *string
	ResetTokenExp *time.Time
}

// CanSignIn reports whether the account is eligible to authenticate at all.
func (a *Account) CanSignIn() bool {
	return a != nil && a.IsActive && !a.IsDeleted
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.LockoutExpiresAt = cloneTime(a.LockoutExpiresAt)
	out.RefreshTokenHash = cloneString(a.RefreshTokenHash)
	out.ResetCode = cloneString(a.ResetCode)
	out.ResetCodeExp = cloneTime(a.ResetCodeExp)
	out.ResetToken = cloneString(a.ResetToken)
	out.ResetTokenExp = cloneTime(a.ResetTokenExp)
	return &out
}

// Store is the account record store. Update and UpdateByEmail apply every field
// of the patch in one atomic write and return the updated record.
type Store interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	Update(ctx context.Context, id string, patch Patch) (*Account, error)
	UpdateByEmail(ctx context.Context, email string, patch Patch) (*Account, error)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
