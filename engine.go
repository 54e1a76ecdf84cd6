package posauth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/internal/audit"
	"github.com/MrEthical07/posauth/internal/errutil"
	"github.com/MrEthical07/posauth/internal/rate"
	"github.com/MrEthical07/posauth/jwt"
	"github.com/MrEthical07/posauth/mail"
	"github.com/MrEthical07/posauth/metrics"
	"github.com/MrEthical07/posauth/password"
	"github.com/MrEthical07/posauth/permission"
)

// Engine runs the session and recovery protocols. Methods are safe for
// concurrent use; all shared state lives in the account store.
type Engine struct {
	config      Config
	store       account.Store
	hasher      *password.Argon2
	tokens      *jwt.Manager
	hierarchies *permission.Hierarchies
	throttle    rate.Limiter
	outbox      *mail.Outbox
	renderer    mail.Renderer
	locator     Locator
	logger      *zap.Logger
	audit       *audit.Dispatcher
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Close drains the email outbox and the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.outbox != nil {
		e.outbox.Close()
	}
	e.audit.Close()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config { return e.config }

// Hierarchies exposes the authorization engine for middleware.
func (e *Engine) Hierarchies() *permission.Hierarchies { return e.hierarchies }

// Store exposes the account store, for collaborators such as the sweeper and
// target-role guards.
func (e *Engine) Store() account.Store { return e.store }

// IsAuthorized reports whether a caller holding current satisfies required.
func (e *Engine) IsAuthorized(current, required string) bool {
	if e == nil {
		return false
	}
	return e.hierarchies.IsAuthorized(current, required)
}

// AuditDropped is the number of audit events discarded under back-pressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditSink returns the engine's audit dispatcher so background jobs such as
// the sweeper share its routes, clock and drop accounting.
func (e *Engine) AuditSink() AuditSink {
	if e == nil || e.audit == nil {
		return audit.NoOpSink{}
	}
	return e.audit
}

// AuditDroppedBy breaks AuditDropped down by route name.
func (e *Engine) AuditDroppedBy() map[string]uint64 {
	if e == nil {
		return nil
	}
	return e.audit.DroppedBy()
}

// DeviceContext describes the caller from values attached to ctx.
func (e *Engine) DeviceContext(ctx context.Context) DeviceContext {
	ip := ClientIPFromContext(ctx)
	d := DeviceContext{
		Date:   e.now().UTC().Format(deviceDateLayout),
		Device: UserAgentFromContext(ctx),
	}
	if d.Device == "" {
		d.Device = "Unknown device"
	}
	if ip != "" {
		d.Location = e.locator.Locate(ip)
	}
	if d.Location == "" {
		d.Location = "Unknown location"
	}
	return d
}

func (e *Engine) allow(ctx context.Context, scope string) error {
	client := ClientIPFromContext(ctx)
	if client == "" {
		return nil
	}
	err := e.throttle.Allow(ctx, scope, client)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.logger.Debug("request throttled", zap.String("scope", scope), zap.String("ip", client))
		return ErrThrottled
	default:
		return internalError("THROTTLE_UNAVAILABLE", scope, err)
	}
}

func (e *Engine) emit(ctx context.Context, ev audit.Event) {
	e.audit.Emit(ctx, ev)
}

// enrichAuditEvent attaches the caller's address and user agent from ctx.
func enrichAuditEvent(ctx context.Context, ev *audit.Event) {
	if ev.IP == "" {
		ev.IP = ClientIPFromContext(ctx)
	}
	if ev.UserAgent == "" {
		ev.UserAgent = UserAgentFromContext(ctx)
	}
}

// finish records metrics for an operation and logs unexpected errors.
func (e *Engine) finish(operation string, started time.Time, err error) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, ErrThrottled):
		outcome = metrics.OutcomeThrottled
	case IsDomainError(err):
		outcome = metrics.OutcomeRejected
	default:
		outcome = metrics.OutcomeError
		errutil.LogError(e.logger, operation+" failed", err)
	}
	e.metrics.Observe(operation, outcome, started)
}
