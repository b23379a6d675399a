// Package channel описывает каналы подписки realtime-шлюза и политику доступа к ним.
// Политика - чистая функция без состояния: по умолчанию всё запрещено.
package channel

import (
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL NAMES
// ══════════════════════════════════════════════════════════════════════════════

// BroadcastNotifications - общий канал системных уведомлений.
const BroadcastNotifications = "notifications"

// DefaultPublicChannels - каналы, доступные любому аутентифицированному пользователю.
var DefaultPublicChannels = []string{"leaderboard:updates", "announcements"}

// UserNotifications возвращает персональный канал уведомлений.
func UserNotifications(userID string) string {
	return "user:" + userID + ":notifications"
}

// UserNotificationCount возвращает канал счётчика непрочитанных.
func UserNotificationCount(userID string) string {
	return "user:" + userID + ":notifications:count"
}

// Achievements возвращает канал достижений пользователя.
func Achievements(userID string) string {
	return "achievements:" + userID
}

// XP возвращает канал начислений опыта пользователя.
func XP(userID string) string {
	return "xp:" + userID
}

// ModuleProgress возвращает пользовательский канал прогресса по модулю.
func ModuleProgress(moduleID, userID string) string {
	return "module:" + moduleID + ":progress:user:" + userID
}

// ModuleUnlockEvent возвращает имя выделенного события разблокировки модуля.
func ModuleUnlockEvent(moduleID string) string {
	return "module:" + moduleID + ":unlock"
}

// SectionUnlockEvent возвращает имя выделенного события разблокировки секции.
func SectionUnlockEvent(sectionID string) string {
	return "section:" + sectionID + ":unlock"
}

// WaitingPeriodEvent возвращает имя выделенного события прогресса ожидания.
func WaitingPeriodEvent(moduleID string) string {
	return "module:" + moduleID + ":waiting_period"
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHORIZER
// ══════════════════════════════════════════════════════════════════════════════

// Authorizer решает, может ли пользователь подписаться на канал.
type Authorizer struct {
	public map[string]struct{}
}

// NewAuthorizer создаёт политику с указанным белым списком публичных каналов.
// nil означает DefaultPublicChannels.
func NewAuthorizer(publicChannels []string) *Authorizer {
	if publicChannels == nil {
		publicChannels = DefaultPublicChannels
	}
	public := make(map[string]struct{}, len(publicChannels))
	for _, ch := range publicChannels {
		ch = strings.TrimSpace(ch)
		if ch != "" {
			public[ch] = struct{}{}
		}
	}
	return &Authorizer{public: public}
}

// CanSubscribe применяет правила по порядку:
//  1. собственные каналы уведомлений и общий канал "notifications";
//  2. шаблон module:{moduleId}:...:user:{userId} с последним сегментом == userID;
//  3. achievements:{userId} и xp:{userId};
//  4. явный белый список публичных каналов.
//
// Всё остальное запрещено.
func (a *Authorizer) CanSubscribe(userID, ch string) bool {
	if userID == "" || ch == "" {
		return false
	}

	switch ch {
	case UserNotifications(userID), UserNotificationCount(userID), BroadcastNotifications:
		return true
	}

	if isOwnModuleChannel(userID, ch) {
		return true
	}

	if ch == Achievements(userID) || ch == XP(userID) {
		return true
	}

	_, ok := a.public[ch]
	return ok
}

// isOwnModuleChannel проверяет шаблон module:{moduleId}:...:user:{userId}.
// Средних сегментов может не быть, но пустые запрещены.
func isOwnModuleChannel(userID, ch string) bool {
	parts := strings.Split(ch, ":")
	// module, moduleId, [сегменты...], user, userId
	if len(parts) < 4 || parts[0] != "module" || parts[1] == "" {
		return false
	}
	n := len(parts)
	if parts[n-2] != "user" || parts[n-1] != userID {
		return false
	}
	for _, p := range parts[2 : n-2] {
		if p == "" {
			return false
		}
	}
	return true
}
