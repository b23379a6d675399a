package notification

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE CONTRACT
// Хранение и статус прочтения делегированы внешнему хранилищу.
// Реализации: infrastructure/persistence/postgres, memory; redis-кеш счётчика.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultPageSize - размер страницы по умолчанию.
const DefaultPageSize = 20

// MaxPageSize - максимальный размер страницы.
const MaxPageSize = 100

// ListFilter - параметры выборки уведомлений.
type ListFilter struct {
	Limit  int
	Offset int
	Status ReadStatus
}

// Normalize приводит фильтр к допустимым значениям.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status == "" {
		f.Status = ReadStatusAll
	}
	return f
}

// Page - страница уведомлений.
type Page struct {
	Items  []*Notification `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// Store - внешнее хранилище уведомлений.
type Store interface {
	// Create сохраняет новое уведомление.
	Create(ctx context.Context, n *Notification) error

	// GetUnreadCount возвращает количество непрочитанных уведомлений.
	GetUnreadCount(ctx context.Context, userID string) (int, error)

	// GetUserNotifications возвращает страницу уведомлений пользователя, новые первыми.
	GetUserNotifications(ctx context.Context, userID string, filter ListFilter) (*Page, error)

	// MarkAsReadBulk отмечает прочитанными уведомления пользователя.
	// Чужие и несуществующие ID пропускаются. Возвращает число изменённых записей.
	MarkAsReadBulk(ctx context.Context, userID string, ids []string, at time.Time) (int, error)

	// DeleteNotifications удаляет уведомления пользователя.
	// Возвращает число удалённых записей.
	DeleteNotifications(ctx context.Context, userID string, ids []string) (int, error)
}
