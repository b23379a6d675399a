package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alem-hub/unlock-gateway/internal/application/command"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// ══════════════════════════════════════════════════════════════════════════════
// RETRY UNLOCK NOTIFICATIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RetryNotificationsJob re-dispatches unlocked schedules whose notification
// never went out.
type RetryNotificationsJob struct {
	repo      unlock.Repository
	processor Processor
	logger    *slog.Logger
	config    RetryNotificationsConfig

	lastStats atomic.Value // *RetryStats
}

// RetryNotificationsConfig contains configuration for the retry job.
type RetryNotificationsConfig struct {
	// Grace keeps the job away from rows the scanner is still handling.
	Grace time.Duration

	// BatchSize caps rows per run (0 = no limit).
	BatchSize int

	// Now overrides the clock (default: time.Now).
	Now func() time.Time
}

// DefaultRetryNotificationsConfig returns sensible defaults.
func DefaultRetryNotificationsConfig() RetryNotificationsConfig {
	return RetryNotificationsConfig{
		Grace:     time.Minute,
		BatchSize: 200,
	}
}

// RetryStats contains statistics from a retry run.
type RetryStats struct {
	StartedAt time.Time
	Found     int
	Delivered int
	Failed    int
}

// NewRetryNotificationsJob creates a new retry job.
func NewRetryNotificationsJob(repo unlock.Repository, processor Processor, logger *slog.Logger, config RetryNotificationsConfig) *RetryNotificationsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Grace < 0 {
		config.Grace = 0
	}

	return &RetryNotificationsJob{
		repo:      repo,
		processor: processor,
		logger:    logger.With("component", "retry_unlock_notifications"),
		config:    config,
	}
}

// Name returns the job name.
func (j *RetryNotificationsJob) Name() string {
	return "retry_unlock_notifications"
}

// Description returns a human-readable description.
func (j *RetryNotificationsJob) Description() string {
	return "Re-sends unlock notifications that failed to dispatch"
}

// Run executes one retry pass.
func (j *RetryNotificationsJob) Run(ctx context.Context) error {
	now := j.config.Now()
	stats := &RetryStats{StartedAt: now}
	defer j.lastStats.Store(stats)

	pending, err := j.repo.FindPendingNotifications(ctx, now.Add(-j.config.Grace), j.config.BatchSize)
	if err != nil {
		return shared.NewSchedulerError("RetryNotifications", "failed to load pending notifications", err)
	}
	stats.Found = len(pending)

	for _, s := range pending {
		if ctx.Err() != nil {
			break
		}

		res, err := j.processor.Renotify(ctx, s)
		switch {
		case err != nil:
			stats.Failed++
			j.logger.Error("renotify failed", "schedule_id", s.ID, "error", err)
		case res.Outcome == command.OutcomeNotifyFailed:
			stats.Failed++
		default:
			stats.Delivered++
		}
	}

	if stats.Found > 0 {
		j.logger.Info("notification retry completed",
			"found", stats.Found,
			"delivered", stats.Delivered,
			"failed", stats.Failed,
		)
	}

	return ctx.Err()
}

// LastStats returns statistics from the most recent pass.
func (j *RetryNotificationsJob) LastStats() *RetryStats {
	if v := j.lastStats.Load(); v != nil {
		return v.(*RetryStats)
	}
	return nil
}
