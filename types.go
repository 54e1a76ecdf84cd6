package posauth

import "time"

// TokenPair is returned by SignIn and Refresh. ExpiresIn is the access-token
// lifetime in seconds.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// ResetToken is returned by ValidateResetCode. ExpiresIn is in seconds.
type ResetToken struct {
	Token     string
	ExpiresIn int64
}

// DeviceContext describes where a recovery request came from. It is shown to
// the account owner in the reset email.
type DeviceContext struct {
	Date     string
	Device   string
	Location string
}

// Locator resolves an IP address to a human-readable place.
type Locator interface {
	Locate(ip string) string
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ip string) string

func (f LocatorFunc) Locate(ip string) string { return f(ip) }

// ipLocator reports the address itself.
type ipLocator struct{}

func (ipLocator) Locate(ip string) string { return ip }

const deviceDateLayout = time.RFC1123
