package account

import "time"

// Nullable is a patch slot for a nullable column. The zero value leaves the
// column untouched; Set writes a value and Clear writes NULL.
type Nullable[T any] struct {
	set   bool
	value *T
}

// Set returns a slot that writes v.
func Set[T any](v T) Nullable[T] { return Nullable[T]{set: true, value: &v} }

// Clear returns a slot that writes NULL.
func Clear[T any]() Nullable[T] { return Nullable[T]{set: true} }

// IsSet reports whether the slot writes anything.
func (n Nullable[T]) IsSet() bool { return n.set }

// Value returns the value to write, nil meaning NULL. Only meaningful when IsSet.
func (n Nullable[T]) Value() *T { return n.value }

func (n Nullable[T]) apply(dst **T) {
	if !n.set {
		return
	}
	if n.value == nil {
		*dst = nil
		return
	}
	v := *n.value
	*dst = &v
}

// Patch is a partial update. Unset fields are left as they are.
type Patch struct {
	PasswordHash        *string
	FailedLoginAttempts *int
	LockoutExpiresAt    Nullable[time.Time]
	RefreshTokenHash    Nullable[string]
	ResetCode           Nullable[string]
	ResetCodeExp        Nullable[time.Time]
	ResetToken          Nullable[string]
	ResetTokenExp       Nullable[time.Time]

	// IfFailedAttempts makes the update conditional on the stored counter still
	// holding this value. A mismatch yields ErrConflict and writes nothing.
	IfFailedAttempts *int
}

// IsEmpty reports whether the patch writes no column.
func (p Patch) IsEmpty() bool {
	return p.PasswordHash == nil && p.FailedLoginAttempts == nil &&
		!p.LockoutExpiresAt.IsSet() && !p.RefreshTokenHash.IsSet() &&
		!p.ResetCode.IsSet() && !p.ResetCodeExp.IsSet() &&
		!p.ResetToken.IsSet() && !p.ResetTokenExp.IsSet()
}

// Apply writes the patch onto a. Preconditions are not checked here.
func (p Patch) Apply(a *Account) {
	if p.PasswordHash != nil {
		a.PasswordHash = *p.PasswordHash
	}
	if p.FailedLoginAttempts != nil {
		a.FailedLoginAttempts = *p.FailedLoginAttempts
	}
	p.LockoutExpiresAt.apply(&a.LockoutExpiresAt)
	p.RefreshTokenHash.apply(&a.RefreshTokenHash)
	p.ResetCode.apply(&a.ResetCode)
	p.ResetCodeExp.apply(&a.ResetCodeExp)
	p.ResetToken.apply(&a.ResetToken)
	p.ResetTokenExp.apply(&a.ResetTokenExp)
}

// ClearResetCredentials returns the patch that nulls both reset pairs.
func ClearResetCredentials() Patch {
	return Patch{
		ResetCode:     Clear[string](),
		ResetCodeExp:  Clear[time.Time](),
		ResetToken:    Clear[string](),
		ResetTokenExp: Clear[time.Time](),
	}
}
