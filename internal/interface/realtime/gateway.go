package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alem-hub/unlock-gateway/internal/domain/channel"
	"github.com/alem-hub/unlock-gateway/internal/domain/notification"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY
// ══════════════════════════════════════════════════════════════════════════════

// GatewayConfig contains configuration for the Gateway.
type GatewayConfig struct {
	Conn ConnConfig

	// RequestTimeout bounds store calls made on behalf of a frame.
	RequestTimeout time.Duration

	// AllowedOrigins restricts the Origin header; empty allows any.
	AllowedOrigins []string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// actionHandler serves one inbound action.
type actionHandler func(ctx context.Context, s *session, frame InboundFrame) error

// session is the server side of one authenticated socket.
type session struct {
	conn   *Conn
	userID string
}

// Gateway upgrades HTTP requests to sockets and serves the inbound protocol.
type Gateway struct {
	registry   *Registry
	dispatcher *Dispatcher
	authorizer *channel.Authorizer
	store      notification.Store

	upgrader websocket.Upgrader
	cfg      GatewayConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	actions map[string]actionHandler
}

// NewGateway wires the gateway. The notification store is taken from the dispatcher.
func NewGateway(registry *Registry, dispatcher *Dispatcher, authorizer *channel.Authorizer, cfg GatewayConfig) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	cfg.Conn = cfg.Conn.withDefaults()

	g := &Gateway{
		registry:   registry,
		dispatcher: dispatcher,
		authorizer: authorizer,
		store:      dispatcher.Store(),
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "gateway"),
		metrics:    cfg.Metrics,
		now:        time.Now,
	}
	g.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      g.checkOrigin,
	}

	g.actions = map[string]actionHandler{
		ActionSubscribe:           g.handleSubscribe,
		ActionUnsubscribe:         g.handleUnsubscribe,
		ActionGetNotifications:    g.handleGetNotifications,
		ActionMarkRead:            g.handleMarkRead,
		ActionDeleteNotifications: g.handleDeleteNotifications,
		ActionPing:                g.handlePing,
	}

	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// ServeHTTP handles GET /ws?token=... for the lifetime of the socket.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConn(uuid.NewString(), ws, g.cfg.Conn, g.logger)

	userID, err := g.registry.Connect(r.Context(), conn, token)
	if err != nil {
		_ = conn.Close(websocket.ClosePolicyViolation, "authentication failed")
		return
	}
	defer func() {
		g.registry.Disconnect(conn.ID())
		_ = conn.Close(websocket.CloseNormalClosure, "")
	}()

	s := &session{conn: conn, userID: userID}
	g.sendUnreadCount(s)
	g.readLoop(s)
}

func (g *Gateway) sendUnreadCount(s *session) {
	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.conn.ctx, g.cfg.RequestTimeout)
	defer cancel()

	count, err := g.store.GetUnreadCount(ctx, s.userID)
	if err != nil {
		g.logger.Warn("failed to load unread count", "user_id", s.userID, "error", err)
		return
	}
	g.reply(s, notification.EventUnreadCount, UnreadCountPayload{Count: count})
}

func (g *Gateway) readLoop(s *session) {
	s.conn.prepareRead()

	for {
		data, err := s.conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("socket read ended", "socket_id", s.conn.ID(), "error", err)
			}
			return
		}
		g.route(s, data)
	}
}

// route parses one frame and runs its action. Errors go back on the same socket.
func (g *Gateway) route(s *session, data []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.replyError(s, "", "invalid message format")
		return
	}

	handler, ok := g.actions[frame.Action]
	if !ok {
		g.replyError(s, frame.Action, "unknown action")
		return
	}

	ctx, cancel := context.WithTimeout(s.conn.ctx, g.cfg.RequestTimeout)
	defer cancel()

	if err := handler(ctx, s, frame); err != nil {
		g.logger.Warn("action failed", "action", frame.Action, "user_id", s.userID, "error", err)
		g.replyError(s, frame.Action, clientMessage(err))
	}
}

func (g *Gateway) reply(s *session, event string, payload interface{}) {
	if err := g.dispatcher.SendToSocket(s.conn, event, payload); err != nil {
		g.logger.Warn("reply failed", "event", event, "error", err)
	}
}

func (g *Gateway) replyError(s *session, action, message string) {
	g.reply(s, EventError, ErrorPayload{Error: message, Action: action})
}

// clientError carries a message that is safe to show to the client.
type clientError struct{ msg string }

func (e *clientError) Error() string { return e.msg }

func badRequest(msg string) error { return &clientError{msg: msg} }

func clientMessage(err error) string {
	var ce *clientError
	if errors.As(err, &ce) {
		return ce.msg
	}
	return "request failed"
}

// ─────────────────────────────────────────────────────────────────────────────
// Actions
// ─────────────────────────────────────────────────────────────────────────────

func (g *Gateway) handleSubscribe(ctx context.Context, s *session, frame InboundFrame) error {
	ch := strings.TrimSpace(frame.Channel)
	if ch == "" {
		return badRequest("channel is required")
	}

	allowed := g.authorizer.CanSubscribe(s.userID, ch)
	g.metrics.Subscription(allowed)
	if !allowed {
		denied := shared.NewAuthorizationError("Subscribe", ch)
		g.logger.Info("subscription denied", "user_id", s.userID, "channel", ch)
		g.replyError(s, frame.Action, denied.Message)
		return nil
	}

	if err := g.registry.Subscribe(s.conn.ID(), ch); err != nil {
		return err
	}
	g.reply(s, EventSubscribed, ChannelPayload{Channel: ch})
	return nil
}

func (g *Gateway) handleUnsubscribe(ctx context.Context, s *session, frame InboundFrame) error {
	ch := strings.TrimSpace(frame.Channel)
	if ch == "" {
		return badRequest("channel is required")
	}
	if _, err := g.registry.Unsubscribe(s.conn.ID(), ch); err != nil {
		return err
	}
	g.reply(s, EventUnsubscribed, ChannelPayload{Channel: ch})
	return nil
}

func (g *Gateway) handleGetNotifications(ctx context.Context, s *session, frame InboundFrame) error {
	if g.store == nil {
		return badRequest("notifications are unavailable")
	}

	page, err := g.store.GetUserNotifications(ctx, s.userID, notification.ListFilter{
		Limit:  frame.Limit,
		Offset: frame.Offset,
		Status: notification.ParseReadStatus(frame.Status),
	})
	if err != nil {
		return err
	}
	g.reply(s, notification.EventNotifications, page)
	return nil
}

func (g *Gateway) handleMarkRead(ctx context.Context, s *session, frame InboundFrame) error {
	if g.store == nil {
		return badRequest("notifications are unavailable")
	}
	if len(frame.IDs) == 0 {
		return badRequest("ids are required")
	}

	count, err := g.store.MarkAsReadBulk(ctx, s.userID, frame.IDs, g.now())
	if err != nil {
		return err
	}
	g.reply(s, notification.EventNotificationsRead, BulkResultPayload{IDs: frame.IDs, Count: count})
	g.pushUnreadCount(ctx, s.userID)
	return nil
}

func (g *Gateway) handleDeleteNotifications(ctx context.Context, s *session, frame InboundFrame) error {
	if g.store == nil {
		return badRequest("notifications are unavailable")
	}
	if len(frame.IDs) == 0 {
		return badRequest("ids are required")
	}

	count, err := g.store.DeleteNotifications(ctx, s.userID, frame.IDs)
	if err != nil {
		return err
	}
	g.reply(s, notification.EventNotificationsDelete, BulkResultPayload{IDs: frame.IDs, Count: count})
	g.pushUnreadCount(ctx, s.userID)
	return nil
}

func (g *Gateway) handlePing(ctx context.Context, s *session, frame InboundFrame) error {
	g.reply(s, EventPong, struct{}{})
	return nil
}

// pushUnreadCount refreshes every socket of the user, not only the requester.
func (g *Gateway) pushUnreadCount(ctx context.Context, userID string) {
	if err := g.dispatcher.PushUnreadCount(ctx, userID); err != nil {
		g.logger.Warn("failed to push unread count", "user_id", userID, "error", err)
	}
}
