package service

import (
	"context"
	"time"

	"cobrarelay/internal/constants"

	"github.com/sirupsen/logrus"
)

// StaleCleaner deactivates mappings with no activity since the cutoff.
type StaleCleaner interface {
	DeactivateStaleMappings(ctx context.Context, cutoff time.Time, actor string) (int64, error)
}

// Scheduler periodically retires mappings that have gone quiet past the
// staleness retention window.
type Scheduler struct {
	cleaner       StaleCleaner
	thresholdDays int
	intervalHours int
	systemUser    string
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewScheduler(cleaner StaleCleaner, thresholdDays, intervalHours int, systemUser string, logger *logrus.Logger) *Scheduler {
	if thresholdDays <= 0 {
		thresholdDays = constants.DefaultStaleThresholdDays
	}
	if intervalHours <= 0 {
		intervalHours = constants.DefaultCleanupIntervalHours
	}
	return &Scheduler{
		cleaner:       cleaner,
		thresholdDays: thresholdDays,
		intervalHours: intervalHours,
		systemUser:    systemUser,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting stale-mapping cleanup scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(s.thresholdDays) * 24 * time.Hour)

	count, err := s.cleaner.DeactivateStaleMappings(ctx, cutoff, s.systemUser)
	if err != nil {
		s.logger.WithError(err).Error("Failed to deactivate stale mappings")
		return
	}

	if count > 0 {
		s.logger.WithFields(logrus.Fields{
			"deactivated":    count,
			"threshold_days": s.thresholdDays,
		}).Info("Deactivated stale mappings")
	}
}
