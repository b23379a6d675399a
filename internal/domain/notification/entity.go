// Package notification содержит доменную модель realtime-уведомлений:
// типизированные события рассылки, тексты уведомлений и контракт внешнего хранилища.
package notification

import (
	"errors"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Type определяет тип сохраняемого уведомления.
type Type string

const (
	TypeModuleUnlock  Type = "module_unlock"
	TypeSectionUnlock Type = "section_unlock"
	TypeWaitingPeriod Type = "waiting_period"
	TypeAchievement   Type = "achievement"
	TypeXPEarned      Type = "xp_earned"
	TypeSystem        Type = "system"
)

// IsValid проверяет корректность типа уведомления.
func (t Type) IsValid() bool {
	switch t {
	case TypeModuleUnlock, TypeSectionUnlock, TypeWaitingPeriod,
		TypeAchievement, TypeXPEarned, TypeSystem:
		return true
	default:
		return false
	}
}

// Category - визуальная категория уведомления на клиенте.
type Category string

const (
	CategorySuccess Category = "success"
	CategoryInfo    Category = "info"
	CategoryWarning Category = "warning"
	CategoryError   Category = "error"
)

// IsValid проверяет корректность категории.
func (c Category) IsValid() bool {
	switch c {
	case CategorySuccess, CategoryInfo, CategoryWarning, CategoryError:
		return true
	default:
		return false
	}
}

// ReadStatus - фильтр по статусу прочтения.
type ReadStatus string

const (
	ReadStatusAll    ReadStatus = "all"
	ReadStatusRead   ReadStatus = "read"
	ReadStatusUnread ReadStatus = "unread"
)

// ParseReadStatus разбирает фильтр; пустая или неизвестная строка означает "all".
func ParseReadStatus(s string) ReadStatus {
	switch ReadStatus(strings.ToLower(strings.TrimSpace(s))) {
	case ReadStatusRead:
		return ReadStatusRead
	case ReadStatusUnread:
		return ReadStatusUnread
	default:
		return ReadStatusAll
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Notification - сохраняемое уведомление пользователя.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Type      Type                   `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Category  Category               `json:"category"`
	Data      map[string]interface{} `json:"data,omitempty"`
	IsRead    bool                   `json:"isRead"`
	CreatedAt time.Time              `json:"createdAt"`
	ReadAt    *time.Time             `json:"readAt,omitempty"`
}

// Draft - содержимое уведомления до присвоения ID и получателя.
type Draft struct {
	Type     Type
	Title    string
	Message  string
	Category Category
	Data     map[string]interface{}
}

// NewNotification создаёт уведомление из черновика.
func NewNotification(id, userID string, d Draft, now time.Time) (*Notification, error) {
	if id == "" {
		return nil, ErrEmptyNotificationID
	}
	if userID == "" {
		return nil, ErrEmptyRecipient
	}
	if !d.Type.IsValid() {
		return nil, ErrInvalidType
	}
	if strings.TrimSpace(d.Title) == "" && strings.TrimSpace(d.Message) == "" {
		return nil, ErrEmptyContent
	}
	category := d.Category
	if !category.IsValid() {
		category = CategoryInfo
	}

	return &Notification{
		ID:        id,
		UserID:    userID,
		Type:      d.Type,
		Title:     d.Title,
		Message:   d.Message,
		Category:  category,
		Data:      d.Data,
		CreatedAt: now.UTC(),
	}, nil
}

// MarkRead отмечает уведомление прочитанным. Повторный вызов ничего не меняет.
func (n *Notification) MarkRead(at time.Time) bool {
	if n.IsRead {
		return false
	}
	at = at.UTC()
	n.IsRead = true
	n.ReadAt = &at
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEmptyNotificationID - не указан ID уведомления.
	ErrEmptyNotificationID = errors.New("notification: id cannot be empty")

	// ErrEmptyRecipient - не указан получатель.
	ErrEmptyRecipient = errors.New("notification: recipient cannot be empty")

	// ErrInvalidType - неизвестный тип уведомления.
	ErrInvalidType = errors.New("notification: invalid type")

	// ErrEmptyContent - пустые заголовок и текст.
	ErrEmptyContent = errors.New("notification: title and message cannot both be empty")
)
