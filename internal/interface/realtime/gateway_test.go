package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/unlock-gateway/internal/application/command"
	"github.com/alem-hub/unlock-gateway/internal/domain/channel"
	"github.com/alem-hub/unlock-gateway/internal/domain/notification"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/auth"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/unlock-gateway/pkg/retry"
)

const testSecret = "test-secret"

type gatewayEnv struct {
	srv        *httptest.Server
	registry   *Registry
	dispatcher *Dispatcher
	store      *memory.NotificationStore
	directory  *memory.Directory
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()

	dir := newDirectory()
	store := memory.NewNotificationStore()
	registry := NewRegistry(auth.NewJWTVerifier(testSecret, "", 0), dir, RegistryConfig{Logger: discard})
	dispatcher := NewDispatcher(registry, DispatcherConfig{Store: store, Logger: discard})
	gw := NewGateway(registry, dispatcher, channel.NewAuthorizer(nil), GatewayConfig{Logger: discard})

	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		registry.Teardown()
		srv.Close()
	})

	return &gatewayEnv{srv: srv, registry: registry, dispatcher: dispatcher, store: store, directory: dir}
}

func (e *gatewayEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *gatewayEnv) dialUser(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := auth.NewAccessToken(testSecret, "", userID, time.Hour)
	require.NoError(t, err)
	conn := e.dial(t, token)

	env := read(t, conn)
	require.Equal(t, notification.EventUnreadCount, env.Event)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env wireEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func send(t *testing.T, conn *websocket.Conn, frame interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func TestGateway_RejectsBadToken(t *testing.T) {
	e := newGatewayEnv(t)

	for _, token := range []string{"", "garbage"} {
		conn := e.dial(t, token)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	}

	assert.Zero(t, e.registry.Stats().Sockets)
}

func TestGateway_SendsUnreadCountOnConnect(t *testing.T) {
	e := newGatewayEnv(t)
	n, err := notification.NewNotification("n1", "u1", notification.Draft{Type: notification.TypeSystem, Title: "hi"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, e.store.Create(context.Background(), n))

	token, err := auth.NewAccessToken(testSecret, "", "u1", time.Hour)
	require.NoError(t, err)
	conn := e.dial(t, token)

	env := read(t, conn)
	assert.Equal(t, notification.EventUnreadCount, env.Event)
	var count UnreadCountPayload
	env.decode(t, &count)
	assert.Equal(t, 1, count.Count)
}

func TestGateway_SubscribeAuthorization(t *testing.T) {
	e := newGatewayEnv(t)
	conn := e.dialUser(t, "u1")

	send(t, conn, InboundFrame{Action: ActionSubscribe, Channel: "xp:u1"})
	env := read(t, conn)
	assert.Equal(t, EventSubscribed, env.Event)

	send(t, conn, InboundFrame{Action: ActionSubscribe, Channel: "xp:u2"})
	env = read(t, conn)
	require.Equal(t, EventError, env.Event)
	var denied ErrorPayload
	env.decode(t, &denied)
	assert.Equal(t, "Not authorized to subscribe to channel xp:u2", denied.Error)

	send(t, conn, InboundFrame{Action: ActionSubscribe, Channel: "module:m1:progress:user:u1"})
	assert.Equal(t, EventSubscribed, read(t, conn).Event)

	send(t, conn, InboundFrame{Action: ActionPing})
	assert.Equal(t, EventPong, read(t, conn).Event, "connection stays open after a denial")

	require.Eventually(t, func() bool { return e.registry.Stats().Subscriptions == 2 }, time.Second, 10*time.Millisecond)

	_, err := e.dispatcher.SendToChannel("xp:u1", "xp_earned", map[string]int{"xpAmount": 3})
	require.NoError(t, err)
	env = read(t, conn)
	assert.Equal(t, "xp_earned", env.Event)
	assert.Equal(t, "xp:u1", env.Channel)

	send(t, conn, InboundFrame{Action: ActionUnsubscribe, Channel: "xp:u1"})
	assert.Equal(t, EventUnsubscribed, read(t, conn).Event)
}

func TestGateway_ProtocolErrors(t *testing.T) {
	e := newGatewayEnv(t)
	conn := e.dialUser(t, "u1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	env := read(t, conn)
	require.Equal(t, EventError, env.Event)
	var p ErrorPayload
	env.decode(t, &p)
	assert.Equal(t, "invalid message format", p.Error)

	send(t, conn, InboundFrame{Action: "launch_rockets"})
	env = read(t, conn)
	env.decode(t, &p)
	assert.Equal(t, "unknown action", p.Error)
	assert.Equal(t, "launch_rockets", p.Action)

	send(t, conn, InboundFrame{Action: ActionMarkRead})
	env = read(t, conn)
	env.decode(t, &p)
	assert.Equal(t, "ids are required", p.Error)
}

func TestGateway_NotificationActions(t *testing.T) {
	e := newGatewayEnv(t)
	conn := e.dialUser(t, "u1")

	for _, title := range []string{"one", "two"} {
		require.NoError(t, e.dispatcher.NotifyGeneric(context.Background(), "u1", notification.Draft{Type: notification.TypeSystem, Title: title}))
		assert.Equal(t, notification.EventNewNotification, read(t, conn).Event)
		assert.Equal(t, notification.EventUnreadCount, read(t, conn).Event)
	}

	send(t, conn, InboundFrame{Action: ActionGetNotifications, Limit: 10, Status: "unread"})
	env := read(t, conn)
	require.Equal(t, notification.EventNotifications, env.Event)
	var page notification.Page
	env.decode(t, &page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Total)

	send(t, conn, InboundFrame{Action: ActionMarkRead, IDs: []string{page.Items[0].ID}})
	env = read(t, conn)
	require.Equal(t, notification.EventNotificationsRead, env.Event)
	var bulk BulkResultPayload
	env.decode(t, &bulk)
	assert.Equal(t, 1, bulk.Count)

	env = read(t, conn)
	require.Equal(t, notification.EventUnreadCount, env.Event)
	var count UnreadCountPayload
	env.decode(t, &count)
	assert.Equal(t, 1, count.Count)

	send(t, conn, InboundFrame{Action: ActionDeleteNotifications, IDs: []string{page.Items[1].ID}})
	env = read(t, conn)
	require.Equal(t, notification.EventNotificationsDelete, env.Event)
	env.decode(t, &bulk)
	assert.Equal(t, 1, bulk.Count)
	assert.Equal(t, notification.EventUnreadCount, read(t, conn).Event)
}

func TestGateway_DisconnectCleansRegistry(t *testing.T) {
	e := newGatewayEnv(t)
	a := e.dialUser(t, "u1")
	b := e.dialUser(t, "u1")

	send(t, a, InboundFrame{Action: ActionSubscribe, Channel: "xp:u1"})
	read(t, a)
	require.Equal(t, 2, e.registry.Stats().Sockets)

	require.NoError(t, a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.Close()

	require.Eventually(t, func() bool {
		s := e.registry.Stats()
		return s.Sockets == 1 && s.Subscriptions == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := e.dispatcher.SendToUser("u1", "custom", nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", read(t, b).Event)
}

func TestGateway_PreservesSendOrderPerSocket(t *testing.T) {
	e := newGatewayEnv(t)
	conn := e.dialUser(t, "u1")

	send(t, conn, InboundFrame{Action: ActionSubscribe, Channel: "xp:u1"})
	require.Equal(t, EventSubscribed, read(t, conn).Event)
	require.Eventually(t, func() bool { return e.registry.Stats().Subscriptions == 1 }, time.Second, 10*time.Millisecond)

	type seq struct {
		N int `json:"n"`
	}

	const total = 40
	for i := 0; i < total; i++ {
		var (
			delivered int
			err       error
		)
		if i%3 == 0 {
			delivered, err = e.dispatcher.SendToChannel("xp:u1", "seq_channel", seq{N: i})
		} else {
			delivered, err = e.dispatcher.SendToUser("u1", "seq_user", seq{N: i})
		}
		require.NoError(t, err)
		require.Equal(t, 1, delivered)
	}

	for i := 0; i < total; i++ {
		env := read(t, conn)
		var got seq
		env.decode(t, &got)
		require.Equal(t, i, got.N, "frame %d arrived out of order", i)
		if i%3 == 0 {
			assert.Equal(t, "seq_channel", env.Event)
			assert.Equal(t, "xp:u1", env.Channel)
		} else {
			assert.Equal(t, "seq_user", env.Event)
			assert.Empty(t, env.Channel)
		}
	}
}

// clock is advanced manually by the end-to-end test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestGateway_EndToEndUnlock(t *testing.T) {
	e := newGatewayEnv(t)
	e.directory.PutSubject(unlock.SubjectModule, "m2", "Concurrency")

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := &clock{now: base}

	repo := memory.NewUnlockRepository()
	s, err := unlock.NewSchedule(unlock.NewScheduleParams{
		ID: "sched-1", SubjectType: unlock.SubjectModule, SubjectID: "m2", UserID: "u1", UnlockAt: base.Add(24 * time.Hour),
	}, base)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), s))

	processor := command.NewUnlockProcessor(repo, e.directory, e.dispatcher, nil, discard, command.UnlockProcessorConfig{
		Now:         c.Now,
		MarkRetrier: retry.New(retry.WithMaxAttempts(1)),
	})
	scan := jobs.NewUnlockScanJob(repo, processor, nil, discard, jobs.UnlockScanConfig{Now: c.Now})

	conn := e.dialUser(t, "u1")

	c.Set(base.Add(23 * time.Hour))
	require.NoError(t, scan.Run(context.Background()))
	send(t, conn, InboundFrame{Action: ActionPing})
	assert.Equal(t, EventPong, read(t, conn).Event, "nothing was pushed before the pong")

	c.Set(base.Add(24*time.Hour + time.Second))
	require.NoError(t, scan.Run(context.Background()))

	env := read(t, conn)
	require.Equal(t, "module:m2:unlock", env.Event)
	var payload notification.ModuleUnlock
	env.decode(t, &payload)
	assert.Equal(t, "Concurrency", payload.ModuleTitle)
	assert.Equal(t, unlock.UnlockTimerCompleted, payload.UnlockType)

	env = read(t, conn)
	require.Equal(t, notification.EventNewNotification, env.Event)
	var n notification.Notification
	env.decode(t, &n)
	assert.Equal(t, "New Module Available", n.Title)

	stored, err := repo.GetByID(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.True(t, stored.IsUnlocked)
	assert.True(t, stored.NotificationSent)
}
