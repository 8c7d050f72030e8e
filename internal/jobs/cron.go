package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/HamedShams/timepulse/internal/config"
	"github.com/HamedShams/timepulse/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const syncLockKey int64 = 424242

type service interface {
	Run(ctx context.Context, trigger string) (*services.RunResult, error)
}

type locker interface {
	WithAdvisoryLock(ctx context.Context, key int64, fn func(context.Context) error) (bool, error)
}

type Cron struct {
	cfg     config.Config
	log     zerolog.Logger
	svc     service
	lock    locker
	c       *cron.Cron
	timeout time.Duration
}

// NewCron schedules the sync on cfg.SyncCron. An empty schedule leaves the
// scheduler idle.
func NewCron(cfg config.Config, log zerolog.Logger, svc service, l locker) (*Cron, error) {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, lock: l, c: c, timeout: 15 * time.Minute}
	if cfg.SyncCron == "" {
		log.Info().Msg("cron: SYNC_CRON empty, scheduler disabled")
		return cr, nil
	}
	if _, err := c.AddFunc(cfg.SyncCron, cr.sync); err != nil {
		return nil, fmt.Errorf("cron: bad schedule %q: %w", cfg.SyncCron, err)
	}
	return cr, nil
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop waits for a running sync to finish.
func (cr *Cron) Stop() { <-cr.c.Stop().Done() }

func (cr *Cron) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), cr.timeout)
	defer cancel()
	ran, err := cr.lock.WithAdvisoryLock(ctx, syncLockKey, func(ctx context.Context) error {
		cr.log.Info().Msg("cron: sync")
		_, err := cr.svc.Run(ctx, "cron")
		return err
	})
	if err != nil {
		cr.log.Error().Err(err).Msg("cron: sync failed")
		return
	}
	if !ran {
		cr.log.Info().Msg("cron: already running elsewhere")
	}
}
