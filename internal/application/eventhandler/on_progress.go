package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// Достижения и начисление XP транслируются в события шлюза.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressNotifier доставляет события прогресса подключённым клиентам.
type ProgressNotifier interface {
	NotifyAchievement(ctx context.Context, userID, achievementID, title, moduleID string, xpEarned *int) error
	NotifyXPEarned(ctx context.Context, userID string, xpAmount int, reason, moduleID string) error
}

// OnProgressHandler обрабатывает события достижений и XP.
type OnProgressHandler struct {
	notifier ProgressNotifier
	logger   *slog.Logger
	timeout  time.Duration
}

// NewOnProgressHandler создаёт новый обработчик.
func NewOnProgressHandler(notifier ProgressNotifier, logger *slog.Logger) *OnProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnProgressHandler{
		notifier: notifier,
		logger:   logger.With("handler", "on_progress"),
		timeout:  5 * time.Second,
	}
}

// HandleAchievementEarned реализует shared.EventHandler для EventAchievementEarned.
func (h *OnProgressHandler) HandleAchievementEarned(event shared.Event) error {
	e, ok := event.(shared.AchievementEarnedEvent)
	if !ok {
		h.logger.Warn("received non-AchievementEarnedEvent", "event_type", event.EventType())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.logger.Debug("forwarding achievement", "user_id", e.UserID, "achievement_id", e.AchievementID)
	return h.notifier.NotifyAchievement(ctx, e.UserID, e.AchievementID, e.Title, e.ModuleID, e.XPEarned)
}

// HandleXPGained реализует shared.EventHandler для EventXPGained.
func (h *OnProgressHandler) HandleXPGained(event shared.Event) error {
	e, ok := event.(shared.XPGainedEvent)
	if !ok {
		h.logger.Warn("received non-XPGainedEvent", "event_type", event.EventType())
		return nil
	}
	if e.Amount <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	return h.notifier.NotifyXPEarned(ctx, e.UserID, e.Amount, e.Reason, e.ModuleID)
}
