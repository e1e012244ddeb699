package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically refreshes overdue conflict flags and purges expired
// staging data.
type Sweeper struct {
	packages  *PackageService
	conflicts *ConflictService
	interval  time.Duration
	log       *logrus.Entry
}

func NewSweeper(packages *PackageService, conflicts *ConflictService, interval time.Duration) *Sweeper {
	return &Sweeper{
		packages:  packages,
		conflicts: conflicts,
		interval:  interval,
		log:       packages.deps.logger("sweeper"),
	}
}

// SweepOnce runs both sweeps and reports how many rows each touched.
func (s *Sweeper) SweepOnce(ctx context.Context) (overdue int64, purged int, err error) {
	if overdue, err = s.conflicts.SweepOverdue(ctx); err != nil {
		return 0, 0, err
	}
	if purged, err = s.packages.PurgeExpiredStaging(ctx); err != nil {
		return overdue, purged, err
	}
	return overdue, purged, nil
}

// Run sweeps every interval until ctx is done. A non-positive interval
// disables the sweeper.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.log.Info("sweeper disabled")
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		overdue, purged, err := s.SweepOnce(ctx)
		if err != nil {
			s.log.WithError(err).Warn("sweep failed")
		} else if overdue > 0 || purged > 0 {
			s.log.WithFields(logrus.Fields{"overdue_changed": overdue, "packages_purged": purged}).Info("sweep finished")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
