package internal

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"math/big"
)

// NewNumericCode returns a uniformly random decimal code of exactly digits
// characters with no leading zero, drawn from crypto/rand.
func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 18 {
		return "", errors.New("invalid code length")
	}
	low := pow10(digits - 1)
	span := new(big.Int).Sub(pow10(digits), low)

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	n.Add(n, low)
	return n.String(), nil
}

// EqualSecret compares two secrets in constant time with respect to content.
func EqualSecret(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
