package posauth

import (
	"io"

	"go.uber.org/zap"

	"github.com/MrEthical07/posauth/internal/audit"
)

// AuditEvent is one security event emitted by the engine.
type AuditEvent = audit.Event

// AuditEventType names an AuditEvent.
type AuditEventType = audit.Type

// AuditSink receives audit events from the engine's background dispatcher.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditSignInSucceeded    = audit.SignInSucceeded
	AuditSignInFailed       = audit.SignInFailed
	AuditAccountLocked      = audit.AccountLocked
	AuditRefreshSucceeded   = audit.RefreshSucceeded
	AuditRefreshRejected    = audit.RefreshRejected
	AuditLoggedOut          = audit.LoggedOut
	AuditResetRequested     = audit.ResetRequested
	AuditResetCodeValidated = audit.ResetCodeValidated
	AuditResetCodeRejected  = audit.ResetCodeRejected
	AuditPasswordReset      = audit.PasswordReset
	AuditResetSwept         = audit.ResetSwept
)

// NewChannelAuditSink buffers events on a channel, mostly for tests.
func NewChannelAuditSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONAuditSink writes one JSON object per event to w.
func NewJSONAuditSink(w io.Writer) *audit.JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewLogAuditSink writes events to logger.
func NewLogAuditSink(logger *zap.Logger) *audit.LogSink { return audit.NewLogSink(logger) }
