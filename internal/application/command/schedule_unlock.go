package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE UNLOCK COMMAND
// Starts a waiting period for a subject after its prerequisite was completed.
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleUnlockCommand contains the data to create a schedule.
type ScheduleUnlockCommand struct {
	UserID      string
	SubjectType unlock.SubjectType
	SubjectID   string

	// ModuleID is required for sections.
	ModuleID string

	// PrerequisiteSubjectID is the subject whose completion started the wait.
	PrerequisiteSubjectID string

	// UnlockAt is used when set; otherwise now + WaitingPeriod.
	UnlockAt      time.Time
	WaitingPeriod time.Duration
}

// Validate validates the command.
func (c ScheduleUnlockCommand) Validate() error {
	if c.UnlockAt.IsZero() && c.WaitingPeriod < 0 {
		return shared.NewDomainError("unlock", "ScheduleUnlock", shared.ErrInvalidInput, "waiting_period cannot be negative")
	}
	return nil
}

// ScheduleUnlockHandler handles the ScheduleUnlockCommand.
type ScheduleUnlockHandler struct {
	repo      unlock.Repository
	publisher shared.EventPublisher // optional
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduleUnlockHandler creates a new ScheduleUnlockHandler.
func NewScheduleUnlockHandler(repo unlock.Repository, publisher shared.EventPublisher, logger *slog.Logger, now func() time.Time) *ScheduleUnlockHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &ScheduleUnlockHandler{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "schedule_unlock"),
		now:       now,
	}
}

// Handle creates a Pending schedule.
func (h *ScheduleUnlockHandler) Handle(ctx context.Context, cmd ScheduleUnlockCommand) (*unlock.Schedule, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.now().UTC()
	unlockAt := cmd.UnlockAt
	if unlockAt.IsZero() {
		unlockAt = now.Add(cmd.WaitingPeriod)
	}

	var prereq *string
	if cmd.PrerequisiteSubjectID != "" {
		v := cmd.PrerequisiteSubjectID
		prereq = &v
	}

	s, err := unlock.NewSchedule(unlock.NewScheduleParams{
		ID:                    uuid.NewString(),
		SubjectType:           cmd.SubjectType,
		SubjectID:             cmd.SubjectID,
		ModuleID:              cmd.ModuleID,
		UserID:                cmd.UserID,
		PrerequisiteSubjectID: prereq,
		UnlockAt:              unlockAt,
	}, now)
	if err != nil {
		return nil, shared.WrapError("unlock", "ScheduleUnlock", shared.ErrValidation, err.Error(), err)
	}

	if err := h.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("schedule_unlock: %w", err)
	}

	h.logger.Info("unlock scheduled",
		"schedule_id", s.ID,
		"user_id", s.UserID,
		"subject_type", s.SubjectType,
		"subject_id", s.SubjectID,
		"unlock_at", s.UnlockAt.Format(time.RFC3339),
	)

	if h.publisher != nil {
		event := shared.NewScheduleCreatedEvent(s.ID, s.UserID, s.SubjectType.String(), s.SubjectID, s.UnlockAt)
		if err := h.publisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish schedule created event", "schedule_id", s.ID, "error", err)
		}
	}

	return s, nil
}
