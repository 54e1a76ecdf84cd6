// Package sweeper periodically clears reset codes and reset tokens whose
// expiry has passed. Recovery checks expiry on every use, so the sweep only
// keeps stale credentials from lingering in storage.
package sweeper

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/posauth/internal/audit"
	"github.com/MrEthical07/posauth/internal/errutil"
	"github.com/MrEthical07/posauth/internal/logging"
	"github.com/MrEthical07/posauth/metrics"
)

// Cleaner nulls every expired reset pair and reports how many accounts it touched.
type Cleaner interface {
	ClearExpiredResetCredentials(ctx context.Context, now time.Time) (int64, error)
}

// Config wires optional collaborators.
type Config struct {
	Interval time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Audit    audit.Sink
	Now      func() time.Time
}

// Sweeper runs a Cleaner on a fixed interval.
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	audit    audit.Sink
	now      func() time.Time
}

// New returns a sweeper. A zero interval means hourly.
func New(cleaner Cleaner, cfg Config) (*Sweeper, error) {
	if cleaner == nil {
		return nil, errors.New("sweeper: cleaner is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	if cfg.Audit == nil {
		cfg.Audit = audit.NoOpSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		cleaner:  cleaner,
		interval: cfg.Interval,
		logger:   cfg.Logger.Named("sweeper"),
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
		now:      cfg.Now,
	}, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
// Sweep failures are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce clears expired reset credentials as of now.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.cleaner.ClearExpiredResetCredentials(ctx, s.now())
	s.metrics.Swept(n, err)
	if err != nil {
		if ctx.Err() == nil {
			errutil.LogError(s.logger, "sweep expired reset credentials", err)
		}
		return 0, err
	}

	s.logger.Info("expired reset credentials cleared", zap.Int64("accounts", n))
	if n > 0 {
		s.audit.Emit(ctx, audit.Stamp(audit.Event{
			Type:     audit.ResetSwept,
			Success:  true,
			Metadata: map[string]string{"accounts": itoa(n)},
		}, s.now()))
	}
	return n, nil
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
