package unlock

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence (postgres, memory).
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции над хранилищем расписаний.
// Все мутации состояния выполняются условными обновлениями (CAS),
// поэтому параллельные вызовы не могут выполнить один переход дважды.
type Repository interface {
	// Create сохраняет новое расписание.
	Create(ctx context.Context, schedule *Schedule) error

	// GetByID возвращает расписание по ID.
	// Возвращает ErrScheduleNotFound, если расписание не найдено.
	GetByID(ctx context.Context, id string) (*Schedule, error)

	// FindDue возвращает расписания с UnlockAt <= now и IsUnlocked = false.
	// limit <= 0 означает без ограничения.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*Schedule, error)

	// MarkUnlocked выполняет переход Pending → Unlocked только если
	// IsUnlocked ещё false. Возвращает true, если переход выполнил именно этот вызов.
	MarkUnlocked(ctx context.Context, id string, unlockType UnlockType, at time.Time) (bool, error)

	// MarkNotified выставляет NotificationSent для разблокированного расписания.
	// Возвращает true, если флаг выставил именно этот вызов.
	MarkNotified(ctx context.Context, id string, at time.Time) (bool, error)

	// Expedite переносит UnlockAt, пока расписание в Pending.
	// Возвращает ErrScheduleAlreadyUnlocked, если расписание уже разблокировано.
	Expedite(ctx context.Context, id string, newUnlockAt time.Time) error

	// FindPendingNotifications возвращает разблокированные, но не уведомлённые
	// расписания, разблокированные не позже unlockedBefore.
	FindPendingNotifications(ctx context.Context, unlockedBefore time.Time, limit int) ([]*Schedule, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// ContentDirectory - внешний сервис контента, из которого берутся названия предметов.
type ContentDirectory interface {
	// GetSubjectTitle возвращает название модуля или секции.
	GetSubjectTitle(ctx context.Context, subjectType SubjectType, subjectID string) (string, error)
}

// Notifier - публичный API рассылки, вызываемый после разблокировки.
type Notifier interface {
	NotifyModuleUnlock(ctx context.Context, userID, moduleID, moduleTitle string, unlockType UnlockType) error
	NotifySectionUnlock(ctx context.Context, userID, moduleID, sectionID, sectionTitle string, unlockType UnlockType) error
}
