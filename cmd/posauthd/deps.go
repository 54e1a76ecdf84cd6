package main

import (
	"context"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/internal/config"
	"github.com/MrEthical07/posauth/internal/httpapi"
	"github.com/MrEthical07/posauth/store/memory"
	"github.com/MrEthical07/posauth/store/postgres"
	"github.com/MrEthical07/posauth/sweeper"
)

// accountStore is what the commands need from a store. Both the postgres and
// the in-memory store provide it.
type accountStore interface {
	account.Store
	sweeper.Cleaner
	httpapi.ActivationStore
	Create(ctx context.Context, a *account.Account) (*account.Account, error)
}

var (
	_ accountStore = (*memory.Store)(nil)
	_ accountStore = (*postgres.Store)(nil)
)

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, oops.Code("CONFIG_INVALID").With("path", configFile).Wrap(err)
	}
	return cfg, nil
}

// openStore connects to postgres, or falls back to an in-memory store when no
// database is configured. The returned func releases the connection pool.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (accountStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, accounts are kept in memory")
		return memory.New(), func() {}, nil
	}

	pool, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return postgres.New(pool), pool.Close, nil
}

func requireDatabase(cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url or POSAUTH_DATABASE_URL is required")
	}
	return nil
}
