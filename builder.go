package posauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/internal/audit"
	"github.com/MrEthical07/posauth/internal/logging"
	"github.com/MrEthical07/posauth/internal/rate"
	"github.com/MrEthical07/posauth/jwt"
	"github.com/MrEthical07/posauth/mail"
	"github.com/MrEthical07/posauth/metrics"
	"github.com/MrEthical07/posauth/password"
	"github.com/MrEthical07/posauth/permission"
)

// Builder assembles an Engine. Configure it during startup, call Build once,
// then discard it.
type Builder struct {
	config Config

	store    account.Store
	redis    redis.UniversalClient
	mailer   mail.Sender
	renderer mail.Renderer
	locator  Locator

	logger      *zap.Logger
	auditRoutes []audit.Route
	metrics     *metrics.Metrics
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the account store. Required.
func (b *Builder) WithStore(store account.Store) *Builder {
	b.store = store
	return b
}

// WithRedis backs the request throttle with redis so limits hold across
// instances. Without it the throttle is per process.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the transport for recovery emails. Required. The engine
// wraps it with retries and a background outbox.
func (b *Builder) WithMailer(sender mail.Sender) *Builder {
	b.mailer = sender
	return b
}

// WithRenderer overrides the embedded email templates.
func (b *Builder) WithRenderer(r mail.Renderer) *Builder {
	b.renderer = r
	return b
}

// WithLocator sets how client IPs are turned into a location for reset emails.
func (b *Builder) WithLocator(l Locator) *Builder {
	b.locator = l
	return b
}

// WithLogger sets the zap logger. Nil keeps the no-op logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink adds a named audit route. Each route has its own queue and
// drop count. Without any route, events are written to the logger under the
// route name "log".
func (b *Builder) WithAuditSink(name string, sink AuditSink) *Builder {
	b.auditRoutes = append(b.auditRoutes, audit.Route{Name: name, Sink: sink})
	return b
}

// WithMetrics enables prometheus instrumentation.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithClock overrides time.Now for the engine and its token issuer.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("account store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	logger := logging.OrNop(b.logger)
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		ResetSecret:   []byte(cfg.JWT.ResetSecret),
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		ResetTTL:      cfg.Recovery.TokenTTL,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	hierarchies, err := permission.BuildHierarchies(cfg.Hierarchies)
	if err != nil {
		return nil, err
	}

	var throttle rate.Limiter = rate.Nop{}
	if cfg.Throttle.Enabled {
		rc := rate.Config{Limit: cfg.Throttle.Limit, Window: cfg.Throttle.Window}
		if b.redis != nil {
			throttle = rate.NewRedis(b.redis, rc)
		} else {
			throttle = rate.NewLocal(rc)
		}
	}

	renderer := b.renderer
	if renderer == nil {
		renderer = mail.NewTemplateRenderer(mail.DefaultTemplates())
	}
	locator := b.locator
	if locator == nil {
		locator = ipLocator{}
	}

	routes := b.auditRoutes
	if len(routes) == 0 {
		routes = []audit.Route{{Name: "log", Sink: audit.NewLogSink(logger)}}
	}

	outbox := mail.NewOutbox(
		mail.NewRetrySender(b.mailer, 0, cfg.Mail.MaxRetries),
		mail.OutboxConfig{Workers: cfg.Mail.Workers, BufferSize: cfg.Mail.BufferSize, SendTimeout: cfg.Mail.SendTimeout},
		logger,
	)
	outbox.OnResult(b.metrics.Email)

	b.built = true
	return &Engine{
		config:      cfg,
		store:       b.store,
		hasher:      hasher,
		tokens:      tokens,
		hierarchies: hierarchies,
		throttle:    throttle,
		outbox:      outbox,
		renderer:    renderer,
		locator:     locator,
		logger:      logger.Named("posauth"),
		audit: audit.NewDispatcher(audit.Config(cfg.Audit), routes,
			audit.WithClock(now),
			audit.WithEnricher(enrichAuditEvent),
			audit.OnDrop(b.metrics.AuditDropped),
		),
		metrics: b.metrics,
		now:     now,
	}, nil
}
