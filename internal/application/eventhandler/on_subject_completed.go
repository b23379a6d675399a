// Package eventhandler содержит обработчики доменных событий внутренней шины.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/unlock-gateway/internal/application/command"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON SUBJECT COMPLETED HANDLER
// Завершение модуля или секции запускает период ожидания для следующего
// предмета: создаётся расписание разблокировки в состоянии Pending.
// ═══════════════════════════════════════════════════════════════════════════

// Scheduler создаёт расписания разблокировки.
type Scheduler interface {
	Handle(ctx context.Context, cmd command.ScheduleUnlockCommand) (*unlock.Schedule, error)
}

// SubjectCompletedConfig содержит конфигурацию обработчика.
type SubjectCompletedConfig struct {
	// DefaultWaitingPeriod применяется, если событие не несёт период ожидания.
	DefaultWaitingPeriod time.Duration

	// Timeout ограничивает время обработки одного события.
	Timeout time.Duration
}

// DefaultSubjectCompletedConfig возвращает конфигурацию по умолчанию.
func DefaultSubjectCompletedConfig() SubjectCompletedConfig {
	return SubjectCompletedConfig{
		DefaultWaitingPeriod: 24 * time.Hour,
		Timeout:              5 * time.Second,
	}
}

// OnSubjectCompletedHandler обрабатывает событие завершения предмета.
type OnSubjectCompletedHandler struct {
	scheduler Scheduler
	logger    *slog.Logger
	config    SubjectCompletedConfig
}

// NewOnSubjectCompletedHandler создаёт новый обработчик.
func NewOnSubjectCompletedHandler(scheduler Scheduler, logger *slog.Logger, config SubjectCompletedConfig) *OnSubjectCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSubjectCompletedConfig().Timeout
	}

	return &OnSubjectCompletedHandler{
		scheduler: scheduler,
		logger:    logger.With("handler", "on_subject_completed"),
		config:    config,
	}
}

// Handle реализует shared.EventHandler.
func (h *OnSubjectCompletedHandler) Handle(event shared.Event) error {
	completed, ok := event.(shared.SubjectCompletedEvent)
	if !ok {
		h.logger.Warn("received non-SubjectCompletedEvent", "event_type", event.EventType())
		return nil
	}

	// Завершён последний предмет цепочки: разблокировать нечего.
	if completed.NextSubjectID == "" {
		h.logger.Debug("no next subject, nothing to schedule", "user_id", completed.UserID)
		return nil
	}

	wait := completed.WaitingPeriod
	if wait <= 0 {
		wait = h.config.DefaultWaitingPeriod
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	s, err := h.scheduler.Handle(ctx, command.ScheduleUnlockCommand{
		UserID:                completed.UserID,
		SubjectType:           unlock.SubjectType(completed.NextSubjectType),
		SubjectID:             completed.NextSubjectID,
		ModuleID:              completed.NextModuleID,
		PrerequisiteSubjectID: completed.CompletedID,
		UnlockAt:              completed.OccurredAt().Add(wait),
	})
	if err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			h.logger.Info("schedule already exists",
				"user_id", completed.UserID,
				"subject_id", completed.NextSubjectID,
			)
			return nil
		}
		return fmt.Errorf("schedule next subject: %w", err)
	}

	h.logger.Info("waiting period started",
		"schedule_id", s.ID,
		"user_id", s.UserID,
		"subject_id", s.SubjectID,
		"unlock_at", s.UnlockAt.Format(time.RFC3339),
	)
	return nil
}
