// Package unlock содержит доменную модель расписаний разблокировки контента.
// Модуль или секция открывается пользователю только после периода ожидания,
// который начинается с завершения предыдущего предмета.
package unlock

import (
	"errors"
	"strings"
	"time"

	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// SubjectType определяет, что именно разблокируется.
type SubjectType string

const (
	// SubjectModule - целый модуль курса.
	SubjectModule SubjectType = "module"

	// SubjectSection - отдельная секция внутри модуля.
	SubjectSection SubjectType = "section"
)

// IsValid проверяет корректность типа предмета.
func (t SubjectType) IsValid() bool {
	return t == SubjectModule || t == SubjectSection
}

// String возвращает строковое представление.
func (t SubjectType) String() string {
	return string(t)
}

// UnlockType определяет причину разблокировки.
type UnlockType string

const (
	// UnlockTimerCompleted - период ожидания истёк, сработал сканер.
	UnlockTimerCompleted UnlockType = "timer_completed"

	// UnlockExpedited - пользователь ускорил разблокировку.
	UnlockExpedited UnlockType = "expedited"

	// UnlockAdminAction - разблокировано администратором.
	UnlockAdminAction UnlockType = "admin_action"
)

// IsValid проверяет корректность типа разблокировки.
func (t UnlockType) IsValid() bool {
	switch t {
	case UnlockTimerCompleted, UnlockExpedited, UnlockAdminAction:
		return true
	default:
		return false
	}
}

// IsManual возвращает true для разблокировок в обход таймера.
func (t UnlockType) IsManual() bool {
	return t == UnlockExpedited || t == UnlockAdminAction
}

// String возвращает строковое представление.
func (t UnlockType) String() string {
	return string(t)
}

// ParseUnlockType разбирает тип разблокировки из строки.
func ParseUnlockType(s string) (UnlockType, error) {
	t := UnlockType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.ErrInvalidUnlockType
	}
	return t, nil
}

// State - состояние расписания: Pending → Unlocked → Notified, без обратных переходов.
type State string

const (
	StatePending  State = "pending"
	StateUnlocked State = "unlocked"
	StateNotified State = "notified"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Schedule - запись о запланированной разблокировке предмета для пользователя.
type Schedule struct {
	// ID - уникальный идентификатор расписания (UUID).
	ID string

	// SubjectType - модуль или секция.
	SubjectType SubjectType

	// SubjectID - ID разблокируемого предмета.
	SubjectID string

	// ModuleID - модуль, к которому относится предмет (для модуля совпадает с SubjectID).
	ModuleID string

	// UserID - владелец расписания.
	UserID string

	// PrerequisiteSubjectID - предмет, завершение которого запустило ожидание.
	PrerequisiteSubjectID *string

	// UnlockAt - момент, после которого предмет считается доступным.
	// Меняется только через Expedite.
	UnlockAt time.Time

	// IsUnlocked переходит false → true ровно один раз.
	IsUnlocked bool

	// NotificationSent может стать true только после IsUnlocked.
	NotificationSent bool

	// UnlockType - причина разблокировки, выставляется при переходе в Unlocked.
	UnlockType UnlockType

	// UnlockedAt - время перехода в Unlocked.
	UnlockedAt *time.Time

	// NotifiedAt - время успешной отправки уведомления.
	NotifiedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewScheduleParams содержит параметры для создания расписания.
type NewScheduleParams struct {
	ID                    string
	SubjectType           SubjectType
	SubjectID             string
	ModuleID              string
	UserID                string
	PrerequisiteSubjectID *string
	UnlockAt              time.Time
}

// NewSchedule создаёт новое расписание в состоянии Pending.
func NewSchedule(params NewScheduleParams, now time.Time) (*Schedule, error) {
	if strings.TrimSpace(params.ID) == "" {
		return nil, ErrEmptyScheduleID
	}
	if !params.SubjectType.IsValid() {
		return nil, shared.ErrInvalidSubjectType
	}
	if strings.TrimSpace(params.SubjectID) == "" {
		return nil, ErrEmptySubjectID
	}
	if strings.TrimSpace(params.UserID) == "" {
		return nil, ErrEmptyUserID
	}
	if params.UnlockAt.IsZero() {
		return nil, ErrZeroUnlockAt
	}

	moduleID := params.ModuleID
	if params.SubjectType == SubjectModule {
		moduleID = params.SubjectID
	}
	if moduleID == "" {
		return nil, ErrEmptyModuleID
	}

	now = now.UTC()
	return &Schedule{
		ID:                    params.ID,
		SubjectType:           params.SubjectType,
		SubjectID:             params.SubjectID,
		ModuleID:              moduleID,
		UserID:                params.UserID,
		PrerequisiteSubjectID: params.PrerequisiteSubjectID,
		UnlockAt:              params.UnlockAt.UTC(),
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// State возвращает текущее состояние расписания.
func (s *Schedule) State() State {
	switch {
	case s.NotificationSent:
		return StateNotified
	case s.IsUnlocked:
		return StateUnlocked
	default:
		return StatePending
	}
}

// IsDue возвращает true, если расписание пора разблокировать.
func (s *Schedule) IsDue(now time.Time) bool {
	return !s.IsUnlocked && !s.UnlockAt.After(now)
}

// RemainingWait возвращает оставшееся время ожидания (0, если уже пора).
func (s *Schedule) RemainingWait(now time.Time) time.Duration {
	if s.IsUnlocked || !s.UnlockAt.After(now) {
		return 0
	}
	return s.UnlockAt.Sub(now)
}

// MarkUnlocked выполняет переход Pending → Unlocked.
// Возвращает false, если расписание уже было разблокировано.
func (s *Schedule) MarkUnlocked(unlockType UnlockType, at time.Time) bool {
	if s.IsUnlocked {
		return false
	}
	at = at.UTC()
	s.IsUnlocked = true
	s.UnlockType = unlockType
	s.UnlockedAt = &at
	s.UpdatedAt = at
	return true
}

// MarkNotified выполняет переход Unlocked → Notified.
func (s *Schedule) MarkNotified(at time.Time) (bool, error) {
	if !s.IsUnlocked {
		return false, ErrNotifyBeforeUnlock
	}
	if s.NotificationSent {
		return false, nil
	}
	at = at.UTC()
	s.NotificationSent = true
	s.NotifiedAt = &at
	s.UpdatedAt = at
	return true, nil
}

// Expedite переносит UnlockAt на указанный момент. Допустимо только в Pending.
func (s *Schedule) Expedite(newUnlockAt time.Time) error {
	if s.IsUnlocked {
		return shared.ErrScheduleAlreadyUnlocked
	}
	s.UnlockAt = newUnlockAt.UTC()
	s.UpdatedAt = s.UnlockAt
	return nil
}

// Clone возвращает глубокую копию расписания.
func (s *Schedule) Clone() *Schedule {
	c := *s
	if s.PrerequisiteSubjectID != nil {
		v := *s.PrerequisiteSubjectID
		c.PrerequisiteSubjectID = &v
	}
	if s.UnlockedAt != nil {
		v := *s.UnlockedAt
		c.UnlockedAt = &v
	}
	if s.NotifiedAt != nil {
		v := *s.NotifiedAt
		c.NotifiedAt = &v
	}
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEmptyScheduleID - не указан ID расписания.
	ErrEmptyScheduleID = errors.New("unlock: schedule id cannot be empty")

	// ErrEmptySubjectID - не указан ID предмета.
	ErrEmptySubjectID = errors.New("unlock: subject id cannot be empty")

	// ErrEmptyModuleID - для секции не указан родительский модуль.
	ErrEmptyModuleID = errors.New("unlock: module id is required for sections")

	// ErrEmptyUserID - не указан пользователь.
	ErrEmptyUserID = errors.New("unlock: user id cannot be empty")

	// ErrZeroUnlockAt - не указано время разблокировки.
	ErrZeroUnlockAt = errors.New("unlock: unlock time is required")

	// ErrNotifyBeforeUnlock - попытка отметить уведомление до разблокировки.
	ErrNotifyBeforeUnlock = errors.New("unlock: cannot mark notified before unlock")
)
