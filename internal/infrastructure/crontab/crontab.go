package crontab

import (
	"context"
	"fmt"
	"time"

	"github.com/mileusna/crontab"

	"threadwise/query-api/internal/config"
	"threadwise/query-api/internal/domain/turn"
	"threadwise/query-api/internal/infrastructure/logger"
	"threadwise/query-api/internal/infrastructure/metrics"
	"threadwise/query-api/internal/utils/platformerrors"
)

const (
	DefaultSweepInterval = 60               // in minutes
	CronJobTimeout       = 10 * time.Minute // Timeout for each cron job execution
)

// Crontab runs the retention sweeper. Soft-deleted turns stay behind as
// tombstones that still occupy their cache slot; the sweeper hard-deletes
// them once they age past the configured retention.
type Crontab struct {
	ctab *crontab.Crontab
	repo turn.Repository
}

func NewCrontab(repo turn.Repository) *Crontab {
	return &Crontab{
		ctab: crontab.New(),
		repo: repo,
	}
}

func (c *Crontab) Run(ctx context.Context) error {
	log := logger.GetLogger()

	cfg := config.GetGlobal()
	if cfg != nil && cfg.SweepEnabled {
		// execute once on server start
		c.sweepDeletedTurns(ctx, cfg.PurgeDeletedAfter)

		sweepInterval := cfg.SweepIntervalMinutes
		if sweepInterval <= 0 {
			sweepInterval = DefaultSweepInterval
		}

		cronExpr := fmt.Sprintf("*/%d * * * *", sweepInterval)
		if err := c.ctab.AddJob(cronExpr, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), CronJobTimeout)
			defer cancel()
			purgeAfter := cfg.PurgeDeletedAfter
			if current := config.GetGlobal(); current != nil {
				purgeAfter = current.PurgeDeletedAfter
			}
			c.sweepDeletedTurns(jobCtx, purgeAfter)
		}); err != nil {
			return platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to add retention sweep job")
		}
		log.Info().Msgf("Retention sweep scheduled: every %d minute(s)", sweepInterval)
	}

	// Schedule environment reload job
	if err := c.ctab.AddJob("* * * * *", func() {
		if _, err := config.Load(); err != nil {
			reloadLog := logger.GetLogger()
			reloadLog.Error().Err(err).Msg("Failed to reload environment")
		}
	}); err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "failed to add env reload job")
	}

	<-ctx.Done()
	c.ctab.Shutdown()
	return nil
}

func (c *Crontab) sweepDeletedTurns(ctx context.Context, purgeAfter time.Duration) {
	log := logger.GetLogger()

	cutoff := time.Now().UTC().Add(-purgeAfter)
	purged, err := c.repo.PurgeDeletedBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to purge soft-deleted turns")
		return
	}

	metrics.RecordPurgedTurns(purged)
	if purged > 0 {
		log.Info().Msgf("Purged %d soft-deleted turns", purged)
	}
}
