package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPEDITE UNLOCK COMMAND
// Moves unlockAt to now and runs the unlock pipeline immediately.
// ══════════════════════════════════════════════════════════════════════════════

// ExpediteUnlockCommand contains the data to expedite a schedule.
type ExpediteUnlockCommand struct {
	// ScheduleID is the schedule to expedite.
	ScheduleID string

	// UnlockType must be expedited or admin_action.
	UnlockType unlock.UnlockType
}

// Validate validates the command.
func (c ExpediteUnlockCommand) Validate() error {
	if c.ScheduleID == "" {
		return shared.NewDomainError("unlock", "ExpediteUnlock", shared.ErrInvalidInput, "schedule_id is required")
	}
	if !c.UnlockType.IsManual() {
		return shared.NewDomainError("unlock", "ExpediteUnlock", shared.ErrInvalidInput,
			fmt.Sprintf("unlock_type must be %s or %s", unlock.UnlockExpedited, unlock.UnlockAdminAction))
	}
	return nil
}

// ExpediteUnlockHandler handles the ExpediteUnlockCommand.
type ExpediteUnlockHandler struct {
	repo      unlock.Repository
	processor *UnlockProcessor
}

// NewExpediteUnlockHandler creates a new ExpediteUnlockHandler.
func NewExpediteUnlockHandler(repo unlock.Repository, processor *UnlockProcessor) *ExpediteUnlockHandler {
	return &ExpediteUnlockHandler{repo: repo, processor: processor}
}

// Handle expedites the schedule. An already unlocked schedule is rejected
// with an invalid state error and nothing is mutated.
func (h *ExpediteUnlockHandler) Handle(ctx context.Context, cmd ExpediteUnlockCommand) (*UnlockResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if err := h.repo.Expedite(ctx, cmd.ScheduleID, h.processor.Now()); err != nil {
		return nil, err
	}

	s, err := h.repo.GetByID(ctx, cmd.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("expedite_unlock: reload schedule: %w", err)
	}

	res, err := h.processor.Unlock(ctx, s, cmd.UnlockType)
	if err != nil {
		return nil, err
	}
	if res.Outcome == OutcomeAlreadyUnlocked {
		// The scanner flipped it between Expedite and the CAS.
		return res, shared.ErrScheduleAlreadyUnlocked
	}
	return res, nil
}

// ExpediteUnlock is the collaborator-facing form of Handle.
func (h *ExpediteUnlockHandler) ExpediteUnlock(ctx context.Context, scheduleID string, unlockType unlock.UnlockType) (*UnlockResult, error) {
	return h.Handle(ctx, ExpediteUnlockCommand{ScheduleID: scheduleID, UnlockType: unlockType})
}
