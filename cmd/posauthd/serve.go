package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/posauth"
	"github.com/MrEthical07/posauth/internal/httpapi"
	"github.com/MrEthical07/posauth/internal/logging"
	"github.com/MrEthical07/posauth/jwt"
	"github.com/MrEthical07/posauth/mail"
	"github.com/MrEthical07/posauth/metrics"
	"github.com/MrEthical07/posauth/permission"
	"github.com/MrEthical07/posauth/realtime"
	"github.com/MrEthical07/posauth/sweeper"
)

const shutdownTimeout = 15 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the realtime channel and the expiry sweeper",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return oops.Code("LOGGER_INIT_FAILED").Wrap(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	smtp, err := mail.NewSMTPSender(cfg.SMTP)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("section", "smtp").Wrap(err)
	}

	m := metrics.New("posauth")
	builder := posauth.New().
		WithConfig(cfg.ToEngineConfig()).
		WithStore(store).
		WithMailer(smtp).
		WithLogger(logger).
		WithMetrics(m)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		builder.WithRedis(rdb)
	}

	// The hub verifies tokens with the engine, and the engine publishes audit
	// events to the hub, so the verifier is bound after Build.
	var engine *posauth.Engine
	builder.WithAuditSink("log", posauth.NewLogAuditSink(logger))
	var hub *realtime.Hub
	if cfg.Realtime.Enabled {
		hierarchies, err := permission.BuildHierarchies(cfg.Auth.Hierarchies)
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("section", "hierarchies").Wrap(err)
		}
		hub, err = realtime.NewHub(
			realtime.VerifierFunc(func(token string) (*jwt.Claims, error) { return engine.VerifyAccess(token) }),
			realtime.Config{
				RequiredRole: cfg.Realtime.RequiredRole,
				Authorizer:   hierarchies,
				Logger:       logger,
				Metrics:      m,
			},
		)
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("section", "realtime").Wrap(err)
		}
		defer hub.Close()
		builder.WithAuditSink("realtime", hub)
	}

	engine, err = builder.Build()
	if err != nil {
		return oops.Code("ENGINE_INIT_FAILED").Wrap(err)
	}
	defer engine.Close()

	sw, err := sweeper.New(store, sweeper.Config{
		Interval: cfg.Auth.Sweeper.Interval,
		Logger:   logger,
		Metrics:  m,
		Audit:    engine.AuditSink(),
	})
	if err != nil {
		return oops.Code("SWEEPER_INIT_FAILED").Wrap(err)
	}
	go func() { _ = sw.Run(ctx) }()

	opts := httpapi.Options{
		Engine:        engine,
		Logger:        logger,
		Metrics:       m,
		Accounts:      store,
		SecureCookies: cfg.SecureCookies,
	}
	if hub != nil {
		opts.Realtime = hub
	}
	handler, err := httpapi.NewHandler(opts)
	if err != nil {
		return oops.Code("HTTP_INIT_FAILED").Wrap(err)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if hub != nil {
		hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}
