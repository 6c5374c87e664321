package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/equitra/swingscan-go/internal/config"
)

// ScanPruner deletes persisted scan runs older than a cutoff.
type ScanPruner interface {
	PruneScans(ctx context.Context, olderThan time.Time) (int64, error)
}

// BlacklistSweeper deactivates blacklist entries whose expiry has passed.
type BlacklistSweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// RetentionService periodically prunes old scan runs and expired
// blacklist entries so the tables backing the history endpoints do not
// grow without bound.
type RetentionService struct {
	scans     ScanPruner
	blacklist BlacklistSweeper
	logger    *logrus.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRetentionService creates a new retention service.
func NewRetentionService(scans ScanPruner, blacklist BlacklistSweeper, logger *logrus.Logger) *RetentionService {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetentionService{
		scans:     scans,
		blacklist: blacklist,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins periodic sweeps. The first sweep runs immediately so a
// restart after downtime catches up without waiting a full interval.
func (s *RetentionService) Start(cfg config.RetentionConfig) {
	s.logger.WithFields(logrus.Fields{
		"scan_retention_days":    cfg.ScanRetentionDays,
		"sweep_interval_minutes": cfg.SweepIntervalMinutes,
	}).Info("Starting retention service")

	go func() {
		if err := s.runSweep(cfg); err != nil {
			s.logger.WithError(err).Warn("Initial retention sweep failed")
		}
	}()

	ticker := time.NewTicker(time.Duration(cfg.SweepIntervalMinutes) * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := s.runSweep(cfg); err != nil {
					s.logger.WithError(err).Warn("Retention sweep failed")
				}
			}
		}
	}()
}

// Stop stops the retention service.
func (s *RetentionService) Stop() {
	s.logger.Info("Stopping retention service")
	s.cancel()
}

// RunSweep performs one sweep outside the periodic schedule.
func (s *RetentionService) RunSweep(cfg config.RetentionConfig) error {
	return s.runSweep(cfg)
}

func (s *RetentionService) runSweep(cfg config.RetentionConfig) error {
	if err := s.pruneScans(cfg.ScanRetentionDays); err != nil {
		return fmt.Errorf("failed to prune scan runs: %w", err)
	}

	if err := s.sweepBlacklist(); err != nil {
		return fmt.Errorf("failed to sweep blacklist: %w", err)
	}

	return nil
}

// pruneScans removes persisted runs older than the retention window. A
// non-positive window disables pruning so operators can keep history
// indefinitely.
func (s *RetentionService) pruneScans(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed, err := s.scans.PruneScans(s.ctx, cutoff)
	if err != nil {
		return err
	}

	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"removed":        removed,
			"retention_days": retentionDays,
		}).Info("Pruned old scan runs")
	}

	return nil
}

func (s *RetentionService) sweepBlacklist() error {
	expired, err := s.blacklist.CleanupExpired(s.ctx)
	if err != nil {
		return err
	}

	if expired > 0 {
		s.logger.WithField("expired", expired).Info("Deactivated expired blacklist entries")
	}

	return nil
}
