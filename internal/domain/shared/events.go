package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types carried on the internal event bus.
const (
	// Progress events
	EventSubjectCompleted  EventType = "progress.subject_completed"
	EventXPGained          EventType = "progress.xp_gained"
	EventAchievementEarned EventType = "progress.achievement_earned"

	// Unlock events
	EventScheduleCreated EventType = "unlock.schedule_created"
	EventSubjectUnlocked EventType = "unlock.subject_unlocked"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// SubjectCompletedEvent is emitted when a user completes a module or section
// that gates another subject behind a waiting period.
type SubjectCompletedEvent struct {
	BaseEvent
	UserID          string        `json:"user_id"`
	CompletedID     string        `json:"completed_id"`
	NextSubjectType string        `json:"next_subject_type"`
	NextSubjectID   string        `json:"next_subject_id"`
	NextModuleID    string        `json:"next_module_id,omitempty"`
	WaitingPeriod   time.Duration `json:"waiting_period"`
}

// Payload implements Event interface.
func (e SubjectCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":           e.UserID,
		"completed_id":      e.CompletedID,
		"next_subject_type": e.NextSubjectType,
		"next_subject_id":   e.NextSubjectID,
		"next_module_id":    e.NextModuleID,
		"waiting_period":    e.WaitingPeriod.String(),
	}
}

// NewSubjectCompletedEvent creates a new SubjectCompletedEvent.
func NewSubjectCompletedEvent(userID, completedID, nextType, nextID string, wait time.Duration) SubjectCompletedEvent {
	return SubjectCompletedEvent{
		BaseEvent:       NewBaseEvent(EventSubjectCompleted, userID),
		UserID:          userID,
		CompletedID:     completedID,
		NextSubjectType: nextType,
		NextSubjectID:   nextID,
		WaitingPeriod:   wait,
	}
}

// XPGainedEvent is emitted when a user gains XP.
type XPGainedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Amount   int    `json:"amount"`
	Reason   string `json:"reason"`
	ModuleID string `json:"module_id,omitempty"`
}

// Payload implements Event interface.
func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"amount":    e.Amount,
		"reason":    e.Reason,
		"module_id": e.ModuleID,
	}
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(userID string, amount int, reason, moduleID string) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent: NewBaseEvent(EventXPGained, userID),
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		ModuleID:  moduleID,
	}
}

// AchievementEarnedEvent is emitted when a user earns an achievement.
type AchievementEarnedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
	Title         string `json:"title"`
	ModuleID      string `json:"module_id,omitempty"`
	XPEarned      *int   `json:"xp_earned,omitempty"`
}

// Payload implements Event interface.
func (e AchievementEarnedEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"user_id":        e.UserID,
		"achievement_id": e.AchievementID,
		"title":          e.Title,
		"module_id":      e.ModuleID,
	}
	if e.XPEarned != nil {
		p["xp_earned"] = *e.XPEarned
	}
	return p
}

// NewAchievementEarnedEvent creates a new AchievementEarnedEvent.
func NewAchievementEarnedEvent(userID, achievementID, title, moduleID string, xp *int) AchievementEarnedEvent {
	return AchievementEarnedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementEarned, userID),
		UserID:        userID,
		AchievementID: achievementID,
		Title:         title,
		ModuleID:      moduleID,
		XPEarned:      xp,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Unlock Events
// ═══════════════════════════════════════════════════════════════════════════

// ScheduleCreatedEvent is emitted when a waiting period starts.
type ScheduleCreatedEvent struct {
	BaseEvent
	UserID      string    `json:"user_id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	UnlockAt    time.Time `json:"unlock_at"`
}

// Payload implements Event interface.
func (e ScheduleCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"subject_type": e.SubjectType,
		"subject_id":   e.SubjectID,
		"unlock_at":    e.UnlockAt,
	}
}

// NewScheduleCreatedEvent creates a new ScheduleCreatedEvent.
func NewScheduleCreatedEvent(scheduleID, userID, subjectType, subjectID string, unlockAt time.Time) ScheduleCreatedEvent {
	return ScheduleCreatedEvent{
		BaseEvent:   NewBaseEvent(EventScheduleCreated, scheduleID),
		UserID:      userID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		UnlockAt:    unlockAt,
	}
}

// SubjectUnlockedEvent is emitted after a schedule wins the Pending to Unlocked transition.
type SubjectUnlockedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	UnlockType  string `json:"unlock_type"`
	Notified    bool   `json:"notified"`
}

// Payload implements Event interface.
func (e SubjectUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"subject_type": e.SubjectType,
		"subject_id":   e.SubjectID,
		"unlock_type":  e.UnlockType,
		"notified":     e.Notified,
	}
}

// NewSubjectUnlockedEvent creates a new SubjectUnlockedEvent.
func NewSubjectUnlockedEvent(scheduleID, userID, subjectType, subjectID, unlockType string, notified bool) SubjectUnlockedEvent {
	return SubjectUnlockedEvent{
		BaseEvent:   NewBaseEvent(EventSubjectUnlocked, scheduleID),
		UserID:      userID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		UnlockType:  unlockType,
		Notified:    notified,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Handler Types
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles domain events.
type EventHandler func(event Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber subscribes to domain events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
