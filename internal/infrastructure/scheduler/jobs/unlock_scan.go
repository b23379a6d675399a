// Package jobs contains the scheduled jobs of the unlock gateway.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alem-hub/unlock-gateway/internal/application/command"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// Processor runs the unlock pipeline for one schedule.
type Processor interface {
	Unlock(ctx context.Context, s *unlock.Schedule, unlockType unlock.UnlockType) (*command.UnlockResult, error)
	Renotify(ctx context.Context, s *unlock.Schedule) (*command.UnlockResult, error)
}

// Locker takes a cross-process lease. Optional.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), acquired bool, err error)
}

// ErrScanInProgress is returned when a scan overlaps the previous one.
var ErrScanInProgress = errors.New("scan already in progress")

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK SCAN JOB
// ══════════════════════════════════════════════════════════════════════════════

// UnlockScanJob finds due schedules and unlocks them.
type UnlockScanJob struct {
	// Dependencies
	repo      unlock.Repository
	processor Processor
	locker    Locker
	logger    *slog.Logger

	// Configuration
	config UnlockScanConfig

	// State
	inFlight  atomic.Bool
	lastStats atomic.Value // *ScanStats
}

// UnlockScanConfig contains configuration for the scan job.
type UnlockScanConfig struct {
	// BatchSize caps rows per tick (0 = no limit).
	BatchSize int

	// LockTTL is the lease duration when a Locker is set.
	LockTTL time.Duration

	// Now overrides the clock (default: time.Now).
	Now func() time.Time
}

// DefaultUnlockScanConfig returns sensible defaults.
func DefaultUnlockScanConfig() UnlockScanConfig {
	return UnlockScanConfig{
		BatchSize: 500,
		LockTTL:   50 * time.Second,
	}
}

// ScanStats contains statistics from a scan run.
type ScanStats struct {
	StartedAt     time.Time
	CompletedAt   time.Time
	Duration      time.Duration
	Found         int
	Unlocked      int
	AlreadyTaken  int
	NotifyFailed  int
	Errors        int
	LeaseNotTaken bool
}

// NewUnlockScanJob creates a new scan job. locker may be nil.
func NewUnlockScanJob(repo unlock.Repository, processor Processor, locker Locker, logger *slog.Logger, config UnlockScanConfig) *UnlockScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultUnlockScanConfig().LockTTL
	}

	return &UnlockScanJob{
		repo:      repo,
		processor: processor,
		locker:    locker,
		logger:    logger.With("component", "unlock_scan"),
		config:    config,
	}
}

// Name returns the job name.
func (j *UnlockScanJob) Name() string {
	return "unlock_scan"
}

// Description returns a human-readable description.
func (j *UnlockScanJob) Description() string {
	return "Unlocks subjects whose waiting period has ended and notifies their users"
}

// Run executes one scan pass.
// A failed FindDue is reported as a scheduler error; the next tick retries.
func (j *UnlockScanJob) Run(ctx context.Context) error {
	if !j.inFlight.CompareAndSwap(false, true) {
		j.logger.Warn("scan skipped, previous pass still running")
		return ErrScanInProgress
	}
	defer j.inFlight.Store(false)

	stats := &ScanStats{StartedAt: j.config.Now()}
	defer func() {
		stats.CompletedAt = j.config.Now()
		stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	if j.locker != nil {
		release, ok, err := j.locker.TryLock(ctx, j.Name(), j.config.LockTTL)
		if err != nil {
			// Lease backend down: CAS still prevents double unlocks.
			j.logger.Warn("scan lease unavailable, scanning without it", "error", err)
		} else if !ok {
			stats.LeaseNotTaken = true
			j.logger.Debug("scan lease held elsewhere, skipping")
			return nil
		} else {
			defer release()
		}
	}

	due, err := j.repo.FindDue(ctx, stats.StartedAt, j.config.BatchSize)
	if err != nil {
		stats.Errors++
		return shared.NewSchedulerError("UnlockScan", "failed to load due schedules", err)
	}
	stats.Found = len(due)

	for _, s := range due {
		if ctx.Err() != nil {
			break
		}

		res, err := j.processor.Unlock(ctx, s, unlock.UnlockTimerCompleted)
		if err != nil {
			stats.Errors++
			j.logger.Error("unlock failed", "schedule_id", s.ID, "error", err)
			continue
		}

		switch res.Outcome {
		case command.OutcomeAlreadyUnlocked:
			stats.AlreadyTaken++
		case command.OutcomeNotifyFailed:
			stats.Unlocked++
			stats.NotifyFailed++
		default:
			stats.Unlocked++
		}
	}

	if stats.Found > 0 {
		j.logger.Info("unlock scan completed",
			"found", stats.Found,
			"unlocked", stats.Unlocked,
			"already_taken", stats.AlreadyTaken,
			"notify_failed", stats.NotifyFailed,
			"errors", stats.Errors,
		)
	}

	return ctx.Err()
}

// LastStats returns statistics from the most recent pass.
func (j *UnlockScanJob) LastStats() *ScanStats {
	if v := j.lastStats.Load(); v != nil {
		return v.(*ScanStats)
	}
	return nil
}
