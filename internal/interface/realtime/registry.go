package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alem-hub/unlock-gateway/internal/domain/identity"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

// DefaultAuthTimeout bounds token verification plus user lookup.
const DefaultAuthTimeout = 5 * time.Second

// RegistryConfig contains configuration for the Registry.
type RegistryConfig struct {
	AuthTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Registry maps users to live sockets and sockets to subscribed channels.
// All maps share one RWMutex; lookups return snapshots.
type Registry struct {
	verifier identity.TokenVerifier
	users    identity.UserFinder

	authTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu      sync.RWMutex
	byUser  map[string]map[string]Socket // userID → socketID → socket
	owner   map[string]string            // socketID → userID
	subs    map[string]map[string]struct{}
	closed  bool
	started time.Time
}

// NewRegistry creates a registry that authenticates through verifier and users.
func NewRegistry(verifier identity.TokenVerifier, users identity.UserFinder, cfg RegistryConfig) *Registry {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Registry{
		verifier:    verifier,
		users:       users,
		authTimeout: cfg.AuthTimeout,
		logger:      cfg.Logger.With("component", "connection_registry"),
		metrics:     cfg.Metrics,
		byUser:      make(map[string]map[string]Socket),
		owner:       make(map[string]string),
		subs:        make(map[string]map[string]struct{}),
		started:     time.Now(),
	}
}

// Connect authenticates token and registers sock for the resolved user.
// Any failure is an auth error; the caller closes the socket.
func (r *Registry) Connect(ctx context.Context, sock Socket, token string) (string, error) {
	if r.isClosed() {
		return "", shared.ErrRegistryClosed
	}

	userID, err := r.authenticate(ctx, strings.TrimSpace(token))
	if err != nil {
		r.metrics.SocketRejected()
		r.logger.Info("socket authentication failed", "socket_id", sock.ID(), "error", err)
		return "", err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", shared.ErrRegistryClosed
	}
	if _, exists := r.owner[sock.ID()]; exists {
		r.mu.Unlock()
		return "", shared.NewDomainError("gateway", "Connect", shared.ErrAlreadyExists, "socket already registered")
	}
	sockets, ok := r.byUser[userID]
	if !ok {
		sockets = make(map[string]Socket)
		r.byUser[userID] = sockets
	}
	sockets[sock.ID()] = sock
	r.owner[sock.ID()] = userID
	r.subs[sock.ID()] = make(map[string]struct{})
	count := len(sockets)
	r.mu.Unlock()

	r.metrics.SocketConnected()
	r.logger.Debug("socket connected", "socket_id", sock.ID(), "user_id", userID, "user_sockets", count)

	return userID, nil
}

type authResult struct {
	userID string
	err    error
}

func (r *Registry) authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", shared.NewAuthError("Connect", "missing token", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, r.authTimeout)
	defer cancel()

	done := make(chan authResult, 1)
	go func() {
		userID, err := r.resolve(ctx, token)
		done <- authResult{userID: userID, err: err}
	}()

	select {
	case res := <-done:
		return res.userID, res.err
	case <-ctx.Done():
		return "", shared.NewAuthError("Connect", "authentication timed out", ctx.Err())
	}
}

func (r *Registry) resolve(ctx context.Context, token string) (string, error) {
	userID, err := r.verifier.VerifyToken(ctx, token)
	if err != nil {
		return "", shared.NewAuthError("VerifyToken", "invalid token", err)
	}

	user, err := r.users.FindUser(ctx, userID)
	switch {
	case err != nil:
		return "", shared.NewAuthError("FindUser", "user lookup failed", err)
	case user == nil:
		return "", shared.NewAuthError("FindUser", "user not found", shared.ErrUserNotFound)
	case !user.Active:
		return "", shared.NewAuthError("FindUser", "user is inactive", identity.ErrInactiveUser)
	}
	return user.ID, nil
}

// Disconnect removes every trace of the socket. Unknown ids are ignored.
// It reports whether the socket was registered.
func (r *Registry) Disconnect(socketID string) bool {
	r.mu.Lock()
	userID, ok := r.owner[socketID]
	if ok {
		r.removeLocked(socketID, userID)
	}
	r.mu.Unlock()

	if ok {
		r.metrics.SocketDisconnected()
		r.logger.Debug("socket disconnected", "socket_id", socketID, "user_id", userID)
	}
	return ok
}

func (r *Registry) removeLocked(socketID, userID string) {
	if sockets, ok := r.byUser[userID]; ok {
		delete(sockets, socketID)
		if len(sockets) == 0 {
			delete(r.byUser, userID)
		}
	}
	delete(r.owner, socketID)
	delete(r.subs, socketID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Subscriptions
// ─────────────────────────────────────────────────────────────────────────────

// Subscribe adds channel to the socket's set. Authorization is the caller's job.
func (r *Registry) Subscribe(socketID, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[socketID]
	if !ok {
		return shared.ErrSocketNotFound
	}
	set[channel] = struct{}{}
	return nil
}

// Unsubscribe removes channel from the socket's set and reports whether it was there.
func (r *Registry) Unsubscribe(socketID, channel string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[socketID]
	if !ok {
		return false, shared.ErrSocketNotFound
	}
	_, had := set[channel]
	delete(set, channel)
	return had, nil
}

// Subscriptions returns the socket's channels, sorted.
func (r *Registry) Subscriptions(socketID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.subs[socketID]
	out := make([]string, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

// UserOf returns the owner of a socket.
func (r *Registry) UserOf(socketID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owner[socketID]
	return userID, ok
}

// SocketsForUser returns a snapshot of the user's sockets.
func (r *Registry) SocketsForUser(userID string) []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sockets := r.byUser[userID]
	out := make([]Socket, 0, len(sockets))
	for _, s := range sockets {
		out = append(out, s)
	}
	return out
}

// SocketsForChannel returns a snapshot of the sockets subscribed to channel.
func (r *Registry) SocketsForChannel(channel string) []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Socket
	for socketID, set := range r.subs {
		if _, ok := set[channel]; !ok {
			continue
		}
		if s := r.byUser[r.owner[socketID]][socketID]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

// RegistryStats is a point-in-time view of the registry.
type RegistryStats struct {
	Users         int           `json:"users"`
	Sockets       int           `json:"sockets"`
	Subscriptions int           `json:"subscriptions"`
	Closed        bool          `json:"closed"`
	Uptime        time.Duration `json:"uptime"`
}

// Stats returns current counts.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := 0
	for _, set := range r.subs {
		subs += len(set)
	}
	return RegistryStats{
		Users:         len(r.byUser),
		Sockets:       len(r.owner),
		Subscriptions: subs,
		Closed:        r.closed,
		Uptime:        time.Since(r.started),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Teardown closes every socket and rejects later Connect calls.
func (r *Registry) Teardown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	var sockets []Socket
	for _, set := range r.byUser {
		for _, s := range set {
			sockets = append(sockets, s)
		}
	}
	r.byUser = make(map[string]map[string]Socket)
	r.owner = make(map[string]string)
	r.subs = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, s := range sockets {
		r.metrics.SocketDisconnected()
		if err := s.Close(websocket.CloseGoingAway, "server shutting down"); err != nil && !errors.Is(err, ErrConnClosed) {
			r.logger.Debug("socket close failed", "socket_id", s.ID(), "error", err)
		}
	}

	r.logger.Info("connection registry torn down", "closed_sockets", len(sockets))
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
