package posauth

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/internal/audit"
	"github.com/MrEthical07/posauth/jwt"
	"github.com/MrEthical07/posauth/lockout"
	"github.com/MrEthical07/posauth/password"
)

const failedAttemptRetries = 3

// SignIn authenticates username and password and opens a session. Unknown,
// inactive and deleted accounts fail exactly like a wrong password. A locked
// account fails with ErrAccountLocked even when the password is correct.
func (e *Engine) SignIn(ctx context.Context, username, secret string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	started := time.Now()
	pair, err := e.signIn(ctx, username, secret)
	e.finish("signin", started, err)
	return pair, err
}

func (e *Engine) signIn(ctx context.Context, username, secret string) (TokenPair, error) {
	if err := e.allow(ctx, "signin"); err != nil {
		return TokenPair{}, err
	}

	acct, err := e.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			e.emit(ctx, audit.Event{Type: audit.SignInFailed, Reason: "unknown_user"})
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, internalError("STORE_LOOKUP", "signin", err)
	}
	if !acct.CanSignIn() {
		e.emit(ctx, audit.Event{Type: audit.SignInFailed, AccountID: acct.ID, Reason: "ineligible"})
		return TokenPair{}, ErrInvalidCredentials
	}

	now := e.now()
	if lockout.IsLocked(acct.LockoutExpiresAt, now) {
		e.emit(ctx, audit.Event{Type: audit.SignInFailed, AccountID: acct.ID, Reason: "locked"})
		return TokenPair{}, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(acct.PasswordHash, secret)
	if err != nil && !errors.Is(err, password.ErrSecretTooLong) {
		return TokenPair{}, internalError("PASSWORD_VERIFY", "signin", err)
	}
	if !ok {
		locked, err := e.recordFailure(ctx, acct)
		if err != nil {
			return TokenPair{}, internalError("STORE_UPDATE", "signin", err)
		}
		e.emit(ctx, audit.Event{Type: audit.SignInFailed, AccountID: acct.ID, Reason: "bad_password"})
		if locked {
			e.metrics.Locked()
			e.emit(ctx, audit.Event{Type: audit.AccountLocked, AccountID: acct.ID, Success: true})
			e.logger.Info("account locked", zap.String("account_id", acct.ID))
		}
		return TokenPair{}, ErrInvalidCredentials
	}

	pair, refreshHash, err := e.issuePair(payloadOf(acct))
	if err != nil {
		return TokenPair{}, err
	}

	zero := 0
	_, err = e.store.Update(ctx, acct.ID, account.Patch{
		RefreshTokenHash:    account.Set(refreshHash),
		FailedLoginAttempts: &zero,
		LockoutExpiresAt:    account.Clear[time.Time](),
	})
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, internalError("STORE_UPDATE", "signin", err)
	}

	e.emit(ctx, audit.Event{Type: audit.SignInSucceeded, AccountID: acct.ID, Success: true})
	return pair, nil
}

// recordFailure applies the lockout policy to acct and persists it. The write
// is conditional on the counter it was computed from; on conflict the record
// is reloaded and the policy reapplied. It reports whether the write locked
// the account.
func (e *Engine) recordFailure(ctx context.Context, acct *account.Account) (bool, error) {
	current := acct
	locked := false

	backoff := retry.WithMaxRetries(failedAttemptRetries, retry.NewConstant(5*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		now := e.now()
		if lockout.IsLocked(current.LockoutExpiresAt, now) {
			// A concurrent failure already locked it.
			return nil
		}

		base := current.FailedLoginAttempts
		attempts, until := e.config.Lockout.OnFailedAttempt(base, now)
		patch := account.Patch{FailedLoginAttempts: &attempts, IfFailedAttempts: &base}
		if until != nil {
			patch.LockoutExpiresAt = account.Set(*until)
		}

		_, err := e.store.Update(ctx, current.ID, patch)
		switch {
		case err == nil:
			locked = until != nil
			return nil
		case errors.Is(err, account.ErrNotFound):
			return nil
		case errors.Is(err, account.ErrConflict):
			fresh, ferr := e.store.FindByID(ctx, current.ID)
			if ferr != nil {
				if errors.Is(ferr, account.ErrNotFound) {
					return nil
				}
				return ferr
			}
			current = fresh
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	return locked, err
}

// Refresh rotates a session: the presented refresh token must match the one
// stored for the account, and is superseded by the pair returned.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	started := time.Now()
	pair, err := e.refresh(ctx, refreshToken)
	e.finish("refresh", started, err)
	return pair, err
}

func (e *Engine) refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := e.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		e.emit(ctx, audit.Event{Type: audit.RefreshRejected, Reason: "token"})
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenPair{}, ErrRefreshTokenExpired
		}
		return TokenPair{}, ErrInvalidRefreshToken
	}
	payload := claims.Payload()

	acct, err := e.store.FindByID(ctx, payload.Subject)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return TokenPair{}, ErrAccountNotFound
		}
		return TokenPair{}, internalError("STORE_LOOKUP", "refresh", err)
	}
	if !acct.CanSignIn() || acct.RefreshTokenHash == nil {
		e.emit(ctx, audit.Event{Type: audit.RefreshRejected, AccountID: acct.ID, Reason: "no_session"})
		return TokenPair{}, ErrInvalidRefreshToken
	}

	ok, err := e.hasher.Verify(*acct.RefreshTokenHash, refreshToken)
	if err != nil && !errors.Is(err, password.ErrSecretTooLong) {
		return TokenPair{}, internalError("REFRESH_VERIFY", "refresh", err)
	}
	if !ok {
		e.emit(ctx, audit.Event{Type: audit.RefreshRejected, AccountID: acct.ID, Reason: "superseded"})
		return TokenPair{}, ErrInvalidRefreshToken
	}

	pair, refreshHash, err := e.issuePair(payload)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := e.store.Update(ctx, acct.ID, account.Patch{RefreshTokenHash: account.Set(refreshHash)}); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return TokenPair{}, ErrAccountNotFound
		}
		return TokenPair{}, internalError("STORE_UPDATE", "refresh", err)
	}

	e.emit(ctx, audit.Event{Type: audit.RefreshSucceeded, AccountID: acct.ID, Success: true})
	return pair, nil
}

// Logout revokes the account's refresh token. Logging out twice succeeds.
func (e *Engine) Logout(ctx context.Context, accountID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	started := time.Now()
	err := e.logout(ctx, accountID)
	e.finish("logout", started, err)
	return err
}

func (e *Engine) logout(ctx context.Context, accountID string) error {
	acct, err := e.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrAccountNotFound
		}
		return internalError("STORE_LOOKUP", "logout", err)
	}
	if acct.RefreshTokenHash != nil {
		if _, err := e.store.Update(ctx, acct.ID, account.Patch{RefreshTokenHash: account.Clear[string]()}); err != nil {
			if errors.Is(err, account.ErrNotFound) {
				return ErrAccountNotFound
			}
			return internalError("STORE_UPDATE", "logout", err)
		}
	}
	e.emit(ctx, audit.Event{Type: audit.LoggedOut, AccountID: acct.ID, Success: true})
	return nil
}

// VerifyAccess validates an access token without touching the store. It is
// meant for consumers outside the request pipeline such as realtime channels.
func (e *Engine) VerifyAccess(token string) (*jwt.Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// Authenticate validates an access token and confirms its account still
// exists and may sign in.
func (e *Engine) Authenticate(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := e.VerifyAccess(token)
	if err != nil {
		return nil, err
	}
	acct, err := e.store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrInvalidAccessToken
		}
		return nil, internalError("STORE_LOOKUP", "authenticate", err)
	}
	if !acct.CanSignIn() {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// issuePair signs both tokens and hashes the refresh token for storage.
func (e *Engine) issuePair(p jwt.Payload) (TokenPair, string, error) {
	access, err := e.tokens.IssueAccess(p)
	if err != nil {
		return TokenPair{}, "", internalError("TOKEN_SIGN", "issue", err)
	}
	refresh, err := e.tokens.IssueRefresh(p)
	if err != nil {
		return TokenPair{}, "", internalError("TOKEN_SIGN", "issue", err)
	}
	hash, err := e.hasher.Hash(refresh)
	if err != nil {
		return TokenPair{}, "", internalError("TOKEN_HASH", "issue", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(e.tokens.AccessTTL() / time.Second),
	}, hash, nil
}

func payloadOf(a *account.Account) jwt.Payload {
	return jwt.Payload{
		Subject:  a.ID,
		Email:    a.Email,
		Role:     a.Role,
		Username: a.Username,
	}
}
