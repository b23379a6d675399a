package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/unlock-gateway/pkg/circuitbreaker"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ScanLock is a lease lock backed by SET NX PX.
// The lease expires on its own if the holder dies mid-scan.
type ScanLock struct {
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// ScanLockOption configures a ScanLock.
type ScanLockOption func(*ScanLock)

// WithBreaker routes lease acquisition through cb. While the circuit is open
// TryLock fails fast and the caller scans without a lease.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) ScanLockOption {
	return func(l *ScanLock) {
		l.breaker = cb
	}
}

// WithLockLogger sets the logger used for release failures.
func WithLockLogger(logger *slog.Logger) ScanLockOption {
	return func(l *ScanLock) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewScanLock creates a lease lock on top of the cache client.
func NewScanLock(cache *Cache, opts ...ScanLockOption) *ScanLock {
	l := &ScanLock{cache: cache, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "scan_lock")
	return l
}

// TryLock attempts to take the lease for name.
// When acquired is false another holder owns the lease and release is a no-op.
func (l *ScanLock) TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), acquired bool, err error) {
	if ttl <= 0 {
		return func() {}, false, ErrCacheInvalidTTL
	}

	key := LockKey(name)
	token := uuid.NewString()

	var ok bool
	setNX := func(ctx context.Context) error {
		var err error
		ok, err = l.cache.client.SetNX(ctx, key, token, ttl).Result()
		return err
	}

	if l.breaker != nil {
		err = l.breaker.Execute(ctx, setNX)
	} else {
		err = setNX(ctx)
	}
	if err != nil {
		return func() {}, false, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	release = func() {
		// Released on a fresh context so a cancelled scan still frees the lease.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.cache.client, []string{key}, token).Err(); err != nil {
			// The lease still expires after ttl.
			l.logger.Warn("scan lock release failed", "lock", name, "ttl", ttl, "error", err)
		}
	}
	return release, true, nil
}
