// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
	"github.com/alem-hub/unlock-gateway/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROCESS UNLOCK
// Shared pipeline behind the scanner, the retry pass and Expedite:
// CAS Pending → Unlocked, resolve the title, notify, CAS Unlocked → Notified.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockOutcome describes what a single pipeline run achieved.
type UnlockOutcome string

const (
	// OutcomeNotified - the schedule is unlocked and the notification went out.
	OutcomeNotified UnlockOutcome = "notified"

	// OutcomeNotifyFailed - the schedule is unlocked but dispatch failed;
	// the retry pass picks it up later.
	OutcomeNotifyFailed UnlockOutcome = "notify_failed"

	// OutcomeAlreadyUnlocked - another caller won the CAS; nothing was sent.
	OutcomeAlreadyUnlocked UnlockOutcome = "already_unlocked"

	// OutcomeAlreadyNotified - the notification flag was already set.
	OutcomeAlreadyNotified UnlockOutcome = "already_notified"
)

// UnlockResult contains the result of processing one schedule.
type UnlockResult struct {
	ScheduleID  string
	UserID      string
	SubjectType unlock.SubjectType
	SubjectID   string
	UnlockType  unlock.UnlockType
	Title       string
	Outcome     UnlockOutcome

	// NotifyErr is set when the dispatch failed.
	NotifyErr error
}

// UnlockProcessorConfig contains configuration for the processor.
type UnlockProcessorConfig struct {
	// Now overrides the clock (default: time.Now).
	Now func() time.Time

	// MarkRetrier retries the MarkNotified write (default: retry.DatabaseRetrier(nil)).
	MarkRetrier *retry.Retrier
}

// UnlockProcessor runs the unlock pipeline for a single schedule.
type UnlockProcessor struct {
	repo      unlock.Repository
	content   unlock.ContentDirectory
	notifier  unlock.Notifier
	publisher shared.EventPublisher // optional
	logger    *slog.Logger

	now         func() time.Time
	markRetrier *retry.Retrier
}

// NewUnlockProcessor creates a new UnlockProcessor.
func NewUnlockProcessor(
	repo unlock.Repository,
	content unlock.ContentDirectory,
	notifier unlock.Notifier,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config UnlockProcessorConfig,
) *UnlockProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.MarkRetrier == nil {
		config.MarkRetrier = retry.DatabaseRetrier(nil)
	}

	return &UnlockProcessor{
		repo:        repo,
		content:     content,
		notifier:    notifier,
		publisher:   publisher,
		logger:      logger.With("component", "unlock_processor"),
		now:         config.Now,
		markRetrier: config.MarkRetrier,
	}
}

// Now returns the processor clock.
func (p *UnlockProcessor) Now() time.Time {
	return p.now().UTC()
}

// Unlock performs the Pending → Unlocked CAS and, if this call won it,
// notifies the user. Losing the CAS is not an error.
func (p *UnlockProcessor) Unlock(ctx context.Context, s *unlock.Schedule, unlockType unlock.UnlockType) (*UnlockResult, error) {
	at := p.Now()

	won, err := p.repo.MarkUnlocked(ctx, s.ID, unlockType, at)
	if err != nil {
		return nil, fmt.Errorf("mark unlocked %s: %w", s.ID, err)
	}
	if !won {
		p.logger.Debug("schedule already unlocked by another caller", "schedule_id", s.ID)
		return p.result(s, unlockType, "", OutcomeAlreadyUnlocked), nil
	}

	local := s.Clone()
	local.MarkUnlocked(unlockType, at)

	return p.deliver(ctx, local, unlockType)
}

// Renotify re-dispatches an unlocked schedule whose notification never went out.
// The stored unlock type is reused.
func (p *UnlockProcessor) Renotify(ctx context.Context, s *unlock.Schedule) (*UnlockResult, error) {
	unlockType := s.UnlockType
	if !unlockType.IsValid() {
		unlockType = unlock.UnlockTimerCompleted
	}
	if !s.IsUnlocked {
		return nil, shared.NewInvalidStateError("unlock", "Renotify", "schedule "+s.ID+" is not unlocked")
	}
	if s.NotificationSent {
		return p.result(s, unlockType, "", OutcomeAlreadyNotified), nil
	}
	return p.deliver(ctx, s, unlockType)
}

func (p *UnlockProcessor) deliver(ctx context.Context, s *unlock.Schedule, unlockType unlock.UnlockType) (*UnlockResult, error) {
	title := p.resolveTitle(ctx, s)
	res := p.result(s, unlockType, title, OutcomeNotified)

	if err := p.notify(ctx, s, title, unlockType); err != nil {
		p.logger.Warn("unlock notification failed, left for retry",
			"schedule_id", s.ID,
			"user_id", s.UserID,
			"subject_type", s.SubjectType,
			"subject_id", s.SubjectID,
			"error", err,
		)
		res.Outcome = OutcomeNotifyFailed
		res.NotifyErr = err
		p.publish(s, unlockType, false)
		return res, nil
	}

	var flipped bool
	err := p.markRetrier.Do(ctx, func(ctx context.Context) error {
		var err error
		flipped, err = p.repo.MarkNotified(ctx, s.ID, p.Now())
		return err
	})
	if err != nil {
		// Notification was delivered; the retry pass will send it again.
		return res, fmt.Errorf("mark notified %s: %w", s.ID, err)
	}
	if !flipped {
		res.Outcome = OutcomeAlreadyNotified
	}

	p.logger.Info("subject unlocked",
		"schedule_id", s.ID,
		"user_id", s.UserID,
		"subject_type", s.SubjectType,
		"subject_id", s.SubjectID,
		"unlock_type", unlockType,
	)
	p.publish(s, unlockType, true)
	return res, nil
}

// resolveTitle falls back to the subject id when the content service cannot answer.
func (p *UnlockProcessor) resolveTitle(ctx context.Context, s *unlock.Schedule) string {
	if p.content == nil {
		return s.SubjectID
	}
	title, err := p.content.GetSubjectTitle(ctx, s.SubjectType, s.SubjectID)
	if err != nil || title == "" {
		p.logger.Warn("subject title lookup failed, using id",
			"subject_type", s.SubjectType,
			"subject_id", s.SubjectID,
			"error", err,
		)
		return s.SubjectID
	}
	return title
}

func (p *UnlockProcessor) notify(ctx context.Context, s *unlock.Schedule, title string, unlockType unlock.UnlockType) error {
	switch s.SubjectType {
	case unlock.SubjectSection:
		return p.notifier.NotifySectionUnlock(ctx, s.UserID, s.ModuleID, s.SubjectID, title, unlockType)
	default:
		return p.notifier.NotifyModuleUnlock(ctx, s.UserID, s.SubjectID, title, unlockType)
	}
}

func (p *UnlockProcessor) publish(s *unlock.Schedule, unlockType unlock.UnlockType, notified bool) {
	if p.publisher == nil {
		return
	}
	event := shared.NewSubjectUnlockedEvent(s.ID, s.UserID, s.SubjectType.String(), s.SubjectID, unlockType.String(), notified)
	if err := p.publisher.Publish(event); err != nil {
		p.logger.Warn("failed to publish subject unlocked event", "schedule_id", s.ID, "error", err)
	}
}

func (p *UnlockProcessor) result(s *unlock.Schedule, unlockType unlock.UnlockType, title string, outcome UnlockOutcome) *UnlockResult {
	return &UnlockResult{
		ScheduleID:  s.ID,
		UserID:      s.UserID,
		SubjectType: s.SubjectType,
		SubjectID:   s.SubjectID,
		UnlockType:  unlockType,
		Title:       title,
		Outcome:     outcome,
	}
}
