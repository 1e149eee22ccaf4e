package notification

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// CleanupConfig controls notification retention.
type CleanupConfig struct {
	RetentionDays int
	Interval      time.Duration
	Enabled       bool
}

func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		RetentionDays: 90,
		Interval:      24 * time.Hour,
		Enabled:       true,
	}
}

// Cleaner removes notifications past their retention period.
type Cleaner struct {
	repo Repository
	log  logrus.FieldLogger
}

func NewCleaner(repo Repository, log logrus.FieldLogger) *Cleaner {
	return &Cleaner{repo: repo, log: log}
}

// RunOnce deletes notifications older than retentionDays.
func (c *Cleaner) RunOnce(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	start := time.Now()
	deleted, err := c.repo.DeleteOlderThan(ctx, time.Duration(retentionDays)*24*time.Hour)
	if err != nil {
		c.log.WithError(err).Error("notification cleanup failed")
		return 0, err
	}
	c.log.WithFields(logrus.Fields{
		"deleted":  deleted,
		"duration": time.Since(start).String(),
	}).Info("notification cleanup completed")
	return deleted, nil
}

// Schedule runs RunOnce every cfg.Interval until ctx is done or the
// returned channel is closed. Returns nil when cleanup is disabled.
func (c *Cleaner) Schedule(ctx context.Context, cfg CleanupConfig) chan struct{} {
	if !cfg.Enabled || cfg.Interval <= 0 {
		c.log.Info("automatic notification cleanup is disabled")
		return nil
	}

	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_, _ = c.RunOnce(ctx, cfg.RetentionDays)
			case <-stopCh:
				c.log.Info("notification cleanup stopped")
				return
			case <-ctx.Done():
				c.log.Info("notification cleanup stopped (context done)")
				return
			}
		}
	}()

	c.log.WithField("interval", cfg.Interval.String()).Info("notification cleanup scheduled")
	return stopCh
}
