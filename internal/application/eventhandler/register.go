package eventhandler

import (
	"fmt"

	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
)

// Register подписывает обработчики на шину событий.
// Любой из обработчиков может быть nil.
func Register(bus shared.EventSubscriber, completed *OnSubjectCompletedHandler, progress *OnProgressHandler) error {
	subs := make(map[shared.EventType]shared.EventHandler)
	if completed != nil {
		subs[shared.EventSubjectCompleted] = completed.Handle
	}
	if progress != nil {
		subs[shared.EventAchievementEarned] = progress.HandleAchievementEarned
		subs[shared.EventXPGained] = progress.HandleXPGained
	}

	for eventType, handler := range subs {
		if err := bus.Subscribe(eventType, handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", eventType, err)
		}
	}
	return nil
}
