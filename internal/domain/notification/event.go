package notification

import (
	"math"
	"strconv"
	"time"

	"github.com/alem-hub/unlock-gateway/internal/domain/channel"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION EVENTS
// Закрытый набор вариантов: ModuleUnlock | SectionUnlock | Achievement |
// XPEarned | WaitingPeriodUpdate | Generic. Каждый вариант несёт типизированный
// payload и сериализуется единообразно на границе протокола.
// ══════════════════════════════════════════════════════════════════════════════

// Kind - вид события рассылки.
type Kind string

const (
	KindModuleUnlock  Kind = "module_unlock"
	KindSectionUnlock Kind = "section_unlock"
	KindAchievement   Kind = "achievement"
	KindXPEarned      Kind = "xp_earned"
	KindWaitingPeriod Kind = "waiting_period_update"
	KindGeneric       Kind = "generic"
)

// Имена исходящих событий шлюза.
const (
	EventNewNotification     = "new_notification"
	EventAchievementEarned   = "achievement_earned"
	EventXPEarned            = "xp_earned"
	EventUnreadCount         = "unread_count"
	EventNotifications       = "notifications"
	EventNotificationsRead   = "notifications_read"
	EventNotificationsDelete = "notifications_deleted"
)

// Route описывает, куда доставляется выделенное событие.
// Пустой Channel означает доставку во все сокеты получателя.
type Route struct {
	Channel string
	Event   string
}

// Event - событие рассылки.
type Event interface {
	// Kind возвращает вид события.
	Kind() Kind

	// Recipient возвращает ID пользователя-получателя.
	Recipient() string

	// OccurredAt возвращает время события.
	OccurredAt() time.Time

	// Dedicated возвращает маршрут выделенного события.
	// false означает, что у варианта нет выделенного события.
	Dedicated() (Route, bool)

	// Notification возвращает черновик общего уведомления.
	// false означает, что общее уведомление не отправляется.
	Notification() (Draft, bool)

	sealed()
}

// ══════════════════════════════════════════════════════════════════════════════
// MODULE / SECTION UNLOCK
// ══════════════════════════════════════════════════════════════════════════════

// ModuleUnlock - модуль стал доступен пользователю.
type ModuleUnlock struct {
	UserID      string            `json:"userId"`
	ModuleID    string            `json:"moduleId"`
	ModuleTitle string            `json:"moduleTitle"`
	UnlockType  unlock.UnlockType `json:"unlockType"`
	Timestamp   time.Time         `json:"timestamp"`
}

func (e ModuleUnlock) Kind() Kind            { return KindModuleUnlock }
func (e ModuleUnlock) Recipient() string     { return e.UserID }
func (e ModuleUnlock) OccurredAt() time.Time { return e.Timestamp }
func (ModuleUnlock) sealed()                 {}

func (e ModuleUnlock) Dedicated() (Route, bool) {
	return Route{Event: channel.ModuleUnlockEvent(e.ModuleID)}, true
}

func (e ModuleUnlock) Notification() (Draft, bool) {
	title, category := unlockTitle("Module", e.UnlockType)
	return Draft{
		Type:     TypeModuleUnlock,
		Title:    title,
		Message:  unlockMessage(e.ModuleTitle, e.UnlockType),
		Category: category,
		Data: map[string]interface{}{
			"moduleId":   e.ModuleID,
			"unlockType": string(e.UnlockType),
		},
	}, true
}

// SectionUnlock - секция модуля стала доступна пользователю.
type SectionUnlock struct {
	UserID       string            `json:"userId"`
	ModuleID     string            `json:"moduleId"`
	SectionID    string            `json:"sectionId"`
	SectionTitle string            `json:"sectionTitle"`
	UnlockType   unlock.UnlockType `json:"unlockType"`
	Timestamp    time.Time         `json:"timestamp"`
}

func (e SectionUnlock) Kind() Kind            { return KindSectionUnlock }
func (e SectionUnlock) Recipient() string     { return e.UserID }
func (e SectionUnlock) OccurredAt() time.Time { return e.Timestamp }
func (SectionUnlock) sealed()                 {}

func (e SectionUnlock) Dedicated() (Route, bool) {
	return Route{Event: channel.SectionUnlockEvent(e.SectionID)}, true
}

func (e SectionUnlock) Notification() (Draft, bool) {
	title, category := unlockTitle("Section", e.UnlockType)
	return Draft{
		Type:     TypeSectionUnlock,
		Title:    title,
		Message:  unlockMessage(e.SectionTitle, e.UnlockType),
		Category: category,
		Data: map[string]interface{}{
			"moduleId":   e.ModuleID,
			"sectionId":  e.SectionID,
			"unlockType": string(e.UnlockType),
		},
	}, true
}

func unlockTitle(subject string, t unlock.UnlockType) (string, Category) {
	switch t {
	case unlock.UnlockExpedited:
		return subject + " Unlocked Early!", CategorySuccess
	case unlock.UnlockAdminAction:
		return subject + " Unlocked by Admin", CategoryInfo
	default:
		return "New " + subject + " Available", CategorySuccess
	}
}

func unlockMessage(title string, t unlock.UnlockType) string {
	switch t {
	case unlock.UnlockExpedited:
		return `"` + title + `" is now available ahead of schedule.`
	case unlock.UnlockAdminAction:
		return `"` + title + `" was unlocked by an administrator.`
	default:
		return `The waiting period is over. "` + title + `" is now available.`
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// WAITING PERIOD
// ══════════════════════════════════════════════════════════════════════════════

// Пороги прогресса ожидания.
const (
	AlmostThereThreshold = 75
	HalfwayThreshold     = 50
)

// WaitingPeriodUpdate - прогресс периода ожидания перед разблокировкой модуля.
type WaitingPeriodUpdate struct {
	UserID          string    `json:"userId"`
	ModuleID        string    `json:"moduleId"`
	ModuleTitle     string    `json:"moduleTitle"`
	RemainingHours  float64   `json:"remainingHours"`
	TotalWaitHours  float64   `json:"totalWaitHours"`
	PercentComplete int       `json:"percentComplete"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewWaitingPeriodUpdate создаёт событие и вычисляет процент прохождения.
func NewWaitingPeriodUpdate(userID, moduleID, moduleTitle string, remainingHours, totalWaitHours float64, now time.Time) WaitingPeriodUpdate {
	return WaitingPeriodUpdate{
		UserID:          userID,
		ModuleID:        moduleID,
		ModuleTitle:     moduleTitle,
		RemainingHours:  remainingHours,
		TotalWaitHours:  totalWaitHours,
		PercentComplete: PercentComplete(remainingHours, totalWaitHours),
		Timestamp:       now.UTC(),
	}
}

// PercentComplete возвращает round((total-remaining)/total*100) в пределах [0, 100].
// Нулевой или отрицательный total считается завершённым ожиданием.
func PercentComplete(remainingHours, totalWaitHours float64) int {
	if totalWaitHours <= 0 {
		return 100
	}
	p := int(math.Round((totalWaitHours - remainingHours) / totalWaitHours * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func (e WaitingPeriodUpdate) Kind() Kind            { return KindWaitingPeriod }
func (e WaitingPeriodUpdate) Recipient() string     { return e.UserID }
func (e WaitingPeriodUpdate) OccurredAt() time.Time { return e.Timestamp }
func (WaitingPeriodUpdate) sealed()                 {}

func (e WaitingPeriodUpdate) Dedicated() (Route, bool) {
	return Route{Event: channel.WaitingPeriodEvent(e.ModuleID)}, true
}

func (e WaitingPeriodUpdate) Notification() (Draft, bool) {
	hours := formatHours(e.RemainingHours)

	var title, message string
	switch {
	case e.PercentComplete >= AlmostThereThreshold:
		title = "Almost There!"
		message = "Only " + hours + " hours left until \"" + e.ModuleTitle + "\" unlocks."
	case e.PercentComplete >= HalfwayThreshold:
		title = "Halfway There!"
		message = "You are halfway through the waiting period for \"" + e.ModuleTitle + "\"."
	default:
		title = hours + " hours remaining"
		message = "\"" + e.ModuleTitle + "\" unlocks in " + hours + " hours."
	}

	return Draft{
		Type:     TypeWaitingPeriod,
		Title:    title,
		Message:  message,
		Category: CategoryInfo,
		Data: map[string]interface{}{
			"moduleId":        e.ModuleID,
			"remainingHours":  e.RemainingHours,
			"percentComplete": e.PercentComplete,
		},
	}, true
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT / XP
// ══════════════════════════════════════════════════════════════════════════════

// Achievement - пользователь получил достижение.
type Achievement struct {
	UserID           string    `json:"userId"`
	AchievementID    string    `json:"achievementId"`
	AchievementTitle string    `json:"achievementTitle"`
	ModuleID         string    `json:"moduleId,omitempty"`
	XPEarned         *int      `json:"xpEarned,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

func (e Achievement) Kind() Kind            { return KindAchievement }
func (e Achievement) Recipient() string     { return e.UserID }
func (e Achievement) OccurredAt() time.Time { return e.Timestamp }
func (Achievement) sealed()                 {}

func (e Achievement) Dedicated() (Route, bool) {
	return Route{Channel: channel.Achievements(e.UserID), Event: EventAchievementEarned}, true
}

func (e Achievement) Notification() (Draft, bool) {
	message := `You earned "` + e.AchievementTitle + `"`
	if e.XPEarned != nil {
		message += " (+" + strconv.Itoa(*e.XPEarned) + " XP)"
	}

	data := map[string]interface{}{"achievementId": e.AchievementID}
	if e.ModuleID != "" {
		data["moduleId"] = e.ModuleID
	}
	if e.XPEarned != nil {
		data["xpEarned"] = *e.XPEarned
	}

	return Draft{
		Type:     TypeAchievement,
		Title:    "Achievement Unlocked!",
		Message:  message,
		Category: CategorySuccess,
		Data:     data,
	}, true
}

// XPGenericThreshold - общее уведомление об опыте отправляется строго выше порога.
const XPGenericThreshold = 10

// XPEarned - пользователю начислен опыт.
type XPEarned struct {
	UserID    string    `json:"userId"`
	Amount    int       `json:"xpAmount"`
	Reason    string    `json:"reason"`
	ModuleID  string    `json:"moduleId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e XPEarned) Kind() Kind            { return KindXPEarned }
func (e XPEarned) Recipient() string     { return e.UserID }
func (e XPEarned) OccurredAt() time.Time { return e.Timestamp }
func (XPEarned) sealed()                 {}

func (e XPEarned) Dedicated() (Route, bool) {
	return Route{Channel: channel.XP(e.UserID), Event: EventXPEarned}, true
}

func (e XPEarned) Notification() (Draft, bool) {
	if e.Amount <= XPGenericThreshold {
		return Draft{}, false
	}

	data := map[string]interface{}{"xpAmount": e.Amount, "reason": e.Reason}
	if e.ModuleID != "" {
		data["moduleId"] = e.ModuleID
	}

	return Draft{
		Type:     TypeXPEarned,
		Title:    "XP Earned",
		Message:  "+" + strconv.Itoa(e.Amount) + " XP for " + e.Reason,
		Category: CategorySuccess,
		Data:     data,
	}, true
}

// ══════════════════════════════════════════════════════════════════════════════
// GENERIC
// ══════════════════════════════════════════════════════════════════════════════

// Generic - произвольное уведомление без выделенного события.
type Generic struct {
	UserID    string    `json:"userId"`
	Draft     Draft     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Generic) Kind() Kind                  { return KindGeneric }
func (e Generic) Recipient() string           { return e.UserID }
func (e Generic) OccurredAt() time.Time       { return e.Timestamp }
func (Generic) sealed()                       {}
func (e Generic) Dedicated() (Route, bool)    { return Route{}, false }
func (e Generic) Notification() (Draft, bool) { return e.Draft, true }
