package posauth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/internal"
	"github.com/MrEthical07/posauth/internal/audit"
	"github.com/MrEthical07/posauth/internal/errutil"
	"github.com/MrEthical07/posauth/jwt"
	"github.com/MrEthical07/posauth/mail"
	"github.com/MrEthical07/posauth/password"
)

// RequestPasswordReset starts recovery for email. It returns nil for unknown,
// inactive and deleted accounts so callers cannot probe which emails exist;
// the only errors are throttling and store failures. The email is delivered
// in the background. A zero device is filled in from ctx.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string, device DeviceContext) error {
	if e == nil {
		return ErrEngineNotReady
	}
	started := time.Now()
	err := e.requestPasswordReset(ctx, email, device)
	e.finish("reset_request", started, err)
	return err
}

func (e *Engine) requestPasswordReset(ctx context.Context, email string, device DeviceContext) error {
	if err := e.allow(ctx, "reset_request"); err != nil {
		return err
	}

	acct, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			e.logger.Debug("reset requested for unknown email")
			return nil
		}
		return internalError("STORE_LOOKUP", "reset_request", err)
	}
	if !acct.CanSignIn() {
		e.logger.Debug("reset requested for ineligible account", zap.String("account_id", acct.ID))
		return nil
	}

	code, err := internal.NewNumericCode(e.config.Recovery.CodeLength)
	if err != nil {
		return internalError("CODE_GENERATE", "reset_request", err)
	}
	expires := e.now().Add(e.config.Recovery.CodeTTL)

	_, err = e.store.UpdateByEmail(ctx, acct.Email, account.Patch{
		ResetCode:    account.Set(code),
		ResetCodeExp: account.Set(expires),
	})
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			e.logger.Debug("account vanished during reset request", zap.String("account_id", acct.ID))
			return nil
		}
		return internalError("STORE_UPDATE", "reset_request", err)
	}
	e.emit(ctx, audit.Event{Type: audit.ResetRequested, AccountID: acct.ID, Success: true})

	if device == (DeviceContext{}) {
		device = e.DeviceContext(ctx)
	}
	e.sendResetCode(ctx, acct, code, device)
	return nil
}

func (e *Engine) sendResetCode(ctx context.Context, acct *account.Account, code string, device DeviceContext) {
	rendered, err := e.renderer.Render(e.config.Recovery.TemplateName, map[string]any{
		"code":              code,
		"codeExpireMinutes": int(e.config.Recovery.CodeTTL / time.Minute),
		"date":              device.Date,
		"device":            device.Device,
		"location":          device.Location,
	})
	if err != nil {
		errutil.LogError(e.logger, "render reset email", internalError("MAIL_RENDER", "reset_request", err))
		return
	}

	msg := mail.Message{
		To:          acct.Email,
		Subject:     e.config.Recovery.Subject,
		HTML:        rendered.HTML,
		Attachments: rendered.Attachments,
	}
	if err := e.outbox.Send(ctx, msg); err != nil {
		errutil.LogError(e.logger, "queue reset email", internalError("MAIL_SEND", "reset_request", err))
	}
}

// ValidateResetCode exchanges a reset code for a short-lived reset token.
// Unlike the request step it reports unknown emails as ErrAccountNotFound.
func (e *Engine) ValidateResetCode(ctx context.Context, email, code string) (ResetToken, error) {
	if e == nil {
		return ResetToken{}, ErrEngineNotReady
	}
	started := time.Now()
	tok, err := e.validateResetCode(ctx, email, code)
	e.finish("reset_validate", started, err)
	return tok, err
}

func (e *Engine) validateResetCode(ctx context.Context, email, code string) (ResetToken, error) {
	if err := e.allow(ctx, "reset_validate"); err != nil {
		return ResetToken{}, err
	}

	acct, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ResetToken{}, ErrAccountNotFound
		}
		return ResetToken{}, internalError("STORE_LOOKUP", "reset_validate", err)
	}

	if acct.ResetCode == nil || !internal.EqualSecret(*acct.ResetCode, code) {
		e.emit(ctx, audit.Event{Type: audit.ResetCodeRejected, AccountID: acct.ID, Reason: "mismatch"})
		return ResetToken{}, ErrInvalidResetCode
	}
	now := e.now()
	if acct.ResetCodeExp == nil || acct.ResetCodeExp.Before(now) {
		e.emit(ctx, audit.Event{Type: audit.ResetCodeRejected, AccountID: acct.ID, Reason: "expired"})
		return ResetToken{}, ErrResetCodeExpired
	}

	token, expires, err := e.tokens.IssueReset(acct.Email)
	if err != nil {
		return ResetToken{}, internalError("TOKEN_SIGN", "reset_validate", err)
	}
	_, err = e.store.UpdateByEmail(ctx, acct.Email, account.Patch{
		ResetToken:    account.Set(token),
		ResetTokenExp: account.Set(expires),
	})
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ResetToken{}, ErrAccountNotFound
		}
		return ResetToken{}, internalError("STORE_UPDATE", "reset_validate", err)
	}

	e.emit(ctx, audit.Event{Type: audit.ResetCodeValidated, AccountID: acct.ID, Success: true})
	return ResetToken{
		Token:     token,
		ExpiresIn: int64(e.tokens.ResetTTL() / time.Second),
	}, nil
}

// ResetPassword sets a new password using the most recently issued reset
// token. All reset credentials and the live session are cleared in the same
// write.
func (e *Engine) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	started := time.Now()
	err := e.resetPassword(ctx, resetToken, newPassword)
	e.finish("reset_password", started, err)
	return err
}

func (e *Engine) resetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := e.allow(ctx, "reset_password"); err != nil {
		return err
	}

	claims, err := e.tokens.VerifyReset(resetToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrResetTokenExpired
		}
		return ErrInvalidResetToken
	}

	acct, err := e.store.FindByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return internalError("STORE_LOOKUP", "reset_password", err)
	}
	if acct.ResetToken == nil || !internal.EqualSecret(*acct.ResetToken, resetToken) {
		return ErrInvalidResetToken
	}
	if acct.ResetTokenExp == nil || acct.ResetTokenExp.Before(e.now()) {
		return ErrResetTokenExpired
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrEmptySecret) || errors.Is(err, password.ErrSecretTooLong) {
			return ErrInvalidPassword
		}
		return internalError("PASSWORD_HASH", "reset_password", err)
	}

	patch := account.ClearResetCredentials()
	patch.PasswordHash = &hash
	patch.RefreshTokenHash = account.Clear[string]()
	if _, err := e.store.UpdateByEmail(ctx, acct.Email, patch); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return internalError("STORE_UPDATE", "reset_password", err)
	}

	e.emit(ctx, audit.Event{Type: audit.PasswordReset, AccountID: acct.ID, Success: true})
	return nil
}
