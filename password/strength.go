package password

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

// MinStrongLength is the shortest secret CheckStrength accepts.
const MinStrongLength = 8

// ErrWeakSecret is returned by CheckStrength.
var ErrWeakSecret = errors.New("password must be at least 8 characters long and contain uppercase, lowercase, number and special character")

// CheckStrength enforces the account password rule: at least MinStrongLength
// characters with an upper-case letter, a lower-case letter, a digit and a
// character that is neither a letter nor a digit.
func CheckStrength(secret string) error {
	if utf8.RuneCountInString(secret) < MinStrongLength {
		return ErrWeakSecret
	}
	var upper, lower, digit, special bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return ErrWeakSecret
	}
	return nil
}
