package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/unlock-gateway/internal/domain/notification"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT DISPATCHER
// Fans notification events out to live sockets. A failing socket is logged
// and skipped; it never fails the call.
// ══════════════════════════════════════════════════════════════════════════════

// ErrDispatcherClosed is returned after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// Store records generic notifications. Optional.
	Store notification.Store

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Now overrides the clock (default: time.Now).
	Now func() time.Time

	// NewID generates notification ids (default: uuid).
	NewID func() string
}

// Dispatcher implements the public Notify* API and unlock.Notifier.
type Dispatcher struct {
	registry *Registry
	store    notification.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	closed atomic.Bool
}

var _ unlock.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Dispatcher{
		registry: registry,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "event_dispatcher"),
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
}

// Close makes every later call fail with ErrDispatcherClosed.
func (d *Dispatcher) Close() {
	d.closed.Store(true)
}

// Store returns the configured notification store, or nil.
func (d *Dispatcher) Store() notification.Store {
	return d.store
}

// ─────────────────────────────────────────────────────────────────────────────
// Fan-out primitives
// ─────────────────────────────────────────────────────────────────────────────

// SendToUser pushes event to every socket of the user and returns how many accepted it.
func (d *Dispatcher) SendToUser(userID, event string, payload interface{}) (int, error) {
	return d.sendToUser(userID, event, event, payload)
}

// label is the metrics label; dedicated event names embed ids and are not used.
func (d *Dispatcher) sendToUser(userID, event, label string, payload interface{}) (int, error) {
	if d.closed.Load() {
		return 0, ErrDispatcherClosed
	}
	data, err := d.encode(Envelope{Event: event, Data: payload, Timestamp: d.now().UTC()})
	if err != nil {
		return 0, err
	}
	return d.push(d.registry.SocketsForUser(userID), label, data), nil
}

// SendToChannel pushes event to every socket subscribed to channel.
// No subscribers is a silent no-op.
func (d *Dispatcher) SendToChannel(channel, event string, payload interface{}) (int, error) {
	return d.sendToChannel(channel, event, event, payload)
}

func (d *Dispatcher) sendToChannel(channel, event, label string, payload interface{}) (int, error) {
	if d.closed.Load() {
		return 0, ErrDispatcherClosed
	}
	sockets := d.registry.SocketsForChannel(channel)
	if len(sockets) == 0 {
		return 0, nil
	}
	data, err := d.encode(Envelope{Event: event, Channel: channel, Data: payload, Timestamp: d.now().UTC()})
	if err != nil {
		return 0, err
	}
	return d.push(sockets, label, data), nil
}

// SendToSocket pushes event to a single socket. Used for request replies.
func (d *Dispatcher) SendToSocket(sock Socket, event string, payload interface{}) error {
	data, err := d.encode(Envelope{Event: event, Data: payload, Timestamp: d.now().UTC()})
	if err != nil {
		return err
	}
	if err := sock.Send(data); err != nil {
		return shared.NewDeliveryError("SendToSocket", sock.ID(), err)
	}
	return nil
}

func (d *Dispatcher) encode(env Envelope) ([]byte, error) {
	data, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Event, err)
	}
	return data, nil
}

func (d *Dispatcher) push(sockets []Socket, label string, data []byte) int {
	delivered := 0
	for _, sock := range sockets {
		if err := sock.Send(data); err != nil {
			d.metrics.Delivery(label, false)
			d.logger.Warn("delivery failed",
				"kind", label,
				"error", shared.NewDeliveryError("push", sock.ID(), err),
			)
			continue
		}
		d.metrics.Delivery(label, true)
		delivered++
	}
	return delivered
}

// ─────────────────────────────────────────────────────────────────────────────
// Typed dispatch
// ─────────────────────────────────────────────────────────────────────────────

// Dispatch sends the variant's dedicated event and, when it has one,
// its generic notification.
func (d *Dispatcher) Dispatch(ctx context.Context, ev notification.Event) error {
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	if ev.Recipient() == "" {
		return shared.NewDomainError("notification", "Dispatch", shared.ErrInvalidInput, "recipient is required")
	}

	if route, ok := ev.Dedicated(); ok {
		var err error
		kind := string(ev.Kind())
		if route.Channel != "" {
			_, err = d.sendToChannel(route.Channel, route.Event, kind, ev)
		} else {
			_, err = d.sendToUser(ev.Recipient(), route.Event, kind, ev)
		}
		if err != nil {
			return err
		}
	}

	if draft, ok := ev.Notification(); ok {
		return d.deliverNotification(ctx, ev.Recipient(), draft, ev.OccurredAt())
	}
	return nil
}

func (d *Dispatcher) deliverNotification(ctx context.Context, userID string, draft notification.Draft, at time.Time) error {
	if at.IsZero() {
		at = d.now()
	}
	n, err := notification.NewNotification(d.newID(), userID, draft, at)
	if err != nil {
		return shared.WrapError("notification", "Dispatch", shared.ErrValidation, "invalid notification", err)
	}

	recorded := false
	if d.store != nil {
		if err := d.store.Create(ctx, n); err != nil {
			d.logger.Warn("failed to record notification, pushing live only",
				"user_id", userID,
				"type", n.Type,
				"error", err,
			)
		} else {
			recorded = true
		}
	}

	if _, err := d.SendToUser(userID, notification.EventNewNotification, n); err != nil {
		return err
	}

	if recorded {
		if err := d.PushUnreadCount(ctx, userID); err != nil {
			d.logger.Warn("failed to push unread count", "user_id", userID, "error", err)
		}
	}
	return nil
}

// PushUnreadCount sends the current unread count to the user's sockets.
func (d *Dispatcher) PushUnreadCount(ctx context.Context, userID string) error {
	if d.store == nil {
		return nil
	}
	count, err := d.store.GetUnreadCount(ctx, userID)
	if err != nil {
		return err
	}
	_, err = d.SendToUser(userID, notification.EventUnreadCount, UnreadCountPayload{Count: count})
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Public builders
// ─────────────────────────────────────────────────────────────────────────────

// NotifyModuleUnlock tells the user a module is open.
func (d *Dispatcher) NotifyModuleUnlock(ctx context.Context, userID, moduleID, moduleTitle string, unlockType unlock.UnlockType) error {
	return d.Dispatch(ctx, notification.ModuleUnlock{
		UserID:      userID,
		ModuleID:    moduleID,
		ModuleTitle: moduleTitle,
		UnlockType:  unlockType,
		Timestamp:   d.now().UTC(),
	})
}

// NotifySectionUnlock tells the user a section is open.
func (d *Dispatcher) NotifySectionUnlock(ctx context.Context, userID, moduleID, sectionID, sectionTitle string, unlockType unlock.UnlockType) error {
	return d.Dispatch(ctx, notification.SectionUnlock{
		UserID:       userID,
		ModuleID:     moduleID,
		SectionID:    sectionID,
		SectionTitle: sectionTitle,
		UnlockType:   unlockType,
		Timestamp:    d.now().UTC(),
	})
}

// NotifyWaitingPeriodUpdate reports waiting-period progress.
func (d *Dispatcher) NotifyWaitingPeriodUpdate(ctx context.Context, userID, moduleID, moduleTitle string, remainingHours, totalWaitHours float64) error {
	return d.Dispatch(ctx, notification.NewWaitingPeriodUpdate(userID, moduleID, moduleTitle, remainingHours, totalWaitHours, d.now()))
}

// NotifyAchievement announces an achievement. xpEarned may be nil.
func (d *Dispatcher) NotifyAchievement(ctx context.Context, userID, achievementID, title, moduleID string, xpEarned *int) error {
	return d.Dispatch(ctx, notification.Achievement{
		UserID:           userID,
		AchievementID:    achievementID,
		AchievementTitle: title,
		ModuleID:         moduleID,
		XPEarned:         xpEarned,
		Timestamp:        d.now().UTC(),
	})
}

// NotifyXPEarned announces an XP award.
func (d *Dispatcher) NotifyXPEarned(ctx context.Context, userID string, xpAmount int, reason, moduleID string) error {
	return d.Dispatch(ctx, notification.XPEarned{
		UserID:    userID,
		Amount:    xpAmount,
		Reason:    reason,
		ModuleID:  moduleID,
		Timestamp: d.now().UTC(),
	})
}

// NotifyGeneric sends a plain notification.
func (d *Dispatcher) NotifyGeneric(ctx context.Context, userID string, draft notification.Draft) error {
	return d.Dispatch(ctx, notification.Generic{UserID: userID, Draft: draft, Timestamp: d.now().UTC()})
}
