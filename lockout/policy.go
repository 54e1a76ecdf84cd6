// Package lockout holds the brute-force lockout rules. Everything here is a
// pure function of its inputs.
package lockout

import "time"

// Policy is the configured threshold and lock duration.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Duration    time.Duration `yaml:"duration"`
}

// DefaultPolicy locks an account for 15 minutes after 5 consecutive failures.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Duration: 15 * time.Minute}
}

// OnFailedAttempt returns the counter and lockout expiry to persist after a
// failed attempt. Reaching max resets the counter to zero and locks until
// now+lockFor; otherwise the counter is incremented and lockedUntil is nil.
func OnFailedAttempt(attempts, max int, lockFor time.Duration, now time.Time) (newAttempts int, lockedUntil *time.Time) {
	if attempts+1 >= max {
		until := now.Add(lockFor)
		return 0, &until
	}
	return attempts + 1, nil
}

// IsLocked reports whether lockedUntil is set and still in the future.
func IsLocked(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// OnFailedAttempt applies the package function with p's settings.
func (p Policy) OnFailedAttempt(attempts int, now time.Time) (int, *time.Time) {
	return OnFailedAttempt(attempts, p.MaxAttempts, p.Duration, now)
}
