package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	defaultNotificationRetentionDays = 30
	defaultWhiteboardRetentionDays   = 90
	defaultSpec                      = "@daily"
)

// Cleaner prunes records nobody reads any more: inbox notifications that were read long ago
// and whiteboard rooms that were closed for good.
type Cleaner struct {
	db   *gorm.DB
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	notificationDays int
	whiteboardDays   int
	schedule         string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cutoff comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithNotificationRetentionDays sets how long read notifications are kept. Zero keeps the default.
func WithNotificationRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.notificationDays = days
		}
	}
}

// WithWhiteboardRetentionDays sets how long permanently closed rooms are kept.
func WithWhiteboardRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.whiteboardDays = days
		}
	}
}

// WithSchedule overrides the cron specification of the prune job.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with the default retention windows.
func NewCleaner(db *gorm.DB, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:               db,
		now:              time.Now,
		notificationDays: defaultNotificationRetentionDays,
		whiteboardDays:   defaultWhiteboardRetentionDays,
		schedule:         defaultSpec,
		log:              logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the prune job and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.db == nil {
		return errors.New("maintenance: db is required")
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("retention cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.schedule, err)
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running job to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce prunes both record kinds once, continuing past the first failure.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := c.now()
	var errs error

	removed, err := CleanupNotifications(ctx, c.db, now.AddDate(0, 0, -c.notificationDays))
	if err != nil {
		errs = multierr.Append(errs, err)
	} else if removed > 0 {
		c.log.Info("pruned read notifications", zap.Int64("count", removed))
	}

	removed, err = CleanupClosedWhiteboards(ctx, c.db, now.AddDate(0, 0, -c.whiteboardDays))
	if err != nil {
		errs = multierr.Append(errs, err)
	} else if removed > 0 {
		c.log.Info("pruned closed whiteboard rooms", zap.Int64("count", removed))
	}

	return errs
}

// CleanupNotifications deletes notifications read before cutoff. Unread ones are never pruned.
func CleanupNotifications(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup notifications: db is required")
	}
	result := db.WithContext(ctx).
		Where("is_read = ? AND read_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CleanupClosedWhiteboards deletes rooms closed before cutoff. Snapshots are kept; they carry
// their own access list.
func CleanupClosedWhiteboards(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup whiteboards: db is required")
	}
	result := db.WithContext(ctx).
		Where("is_active = ? AND closed_at IS NOT NULL AND closed_at < ?", false, cutoff).
		Delete(&models.WhiteboardRoom{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup whiteboards: %w", result.Error)
	}
	return result.RowsAffected, nil
}
