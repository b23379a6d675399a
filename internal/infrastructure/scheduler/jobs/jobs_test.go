package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/unlock-gateway/internal/application/command"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/unlock-gateway/pkg/retry"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingNotifier struct {
	mu      sync.Mutex
	modules []string
	fail    bool
}

func (n *countingNotifier) NotifyModuleUnlock(ctx context.Context, userID, moduleID, title string, t unlock.UnlockType) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("dispatch failed")
	}
	n.modules = append(n.modules, moduleID+"|"+title+"|"+string(t))
	return nil
}

func (n *countingNotifier) NotifySectionUnlock(ctx context.Context, userID, moduleID, sectionID, title string, t unlock.UnlockType) error {
	return n.NotifyModuleUnlock(ctx, userID, sectionID, title, t)
}

func (n *countingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.modules...)
}

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

type env struct {
	repo      *memory.UnlockRepository
	notifier  *countingNotifier
	clock     *clock
	processor *command.UnlockProcessor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		repo:     memory.NewUnlockRepository(),
		notifier: &countingNotifier{},
		clock:    &clock{now: base},
	}
	dir := memory.NewDirectory()
	dir.PutSubject(unlock.SubjectModule, "m2", "Concurrency")
	e.processor = command.NewUnlockProcessor(e.repo, dir, e.notifier, nil, discard, command.UnlockProcessorConfig{
		Now:         e.clock.Now,
		MarkRetrier: retry.New(retry.WithMaxAttempts(1)),
	})
	return e
}

func (e *env) schedule(t *testing.T, id, moduleID string, unlockAt time.Time) {
	t.Helper()
	s, err := unlock.NewSchedule(unlock.NewScheduleParams{
		ID: id, SubjectType: unlock.SubjectModule, SubjectID: moduleID, UserID: "u1", UnlockAt: unlockAt,
	}, base)
	require.NoError(t, err)
	require.NoError(t, e.repo.Create(context.Background(), s))
}

func TestUnlockScan_EndToEndWaitingPeriod(t *testing.T) {
	e := newEnv(t)
	e.schedule(t, "a", "m2", base.Add(24*time.Hour))

	cfg := DefaultUnlockScanConfig()
	cfg.Now = e.clock.Now
	job := NewUnlockScanJob(e.repo, e.processor, nil, discard, cfg)

	e.clock.Set(base.Add(23 * time.Hour))
	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, e.notifier.sent())
	assert.Zero(t, job.LastStats().Found)

	e.clock.Set(base.Add(24*time.Hour + time.Second))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"m2|Concurrency|timer_completed"}, e.notifier.sent())
	assert.Equal(t, 1, job.LastStats().Unlocked)

	stored, _ := e.repo.GetByID(context.Background(), "a")
	assert.Equal(t, unlock.StateNotified, stored.State())

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, e.notifier.sent(), 1, "no double fire")
}

func TestUnlockScan_ConcurrentScansFireOnce(t *testing.T) {
	e := newEnv(t)
	for _, id := range []string{"a", "b", "c"} {
		e.schedule(t, id, "m-"+id, base)
	}

	jobs := []*UnlockScanJob{
		NewUnlockScanJob(e.repo, e.processor, nil, discard, UnlockScanConfig{Now: e.clock.Now}),
		NewUnlockScanJob(e.repo, e.processor, nil, discard, UnlockScanConfig{Now: e.clock.Now}),
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *UnlockScanJob) {
			defer wg.Done()
			_ = j.Run(context.Background())
		}(j)
	}
	wg.Wait()

	assert.Len(t, e.notifier.sent(), 3)
}

type blockingRepo struct {
	*memory.UnlockRepository
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]*unlock.Schedule, error) {
	r.entered <- struct{}{}
	<-r.release
	return r.UnlockRepository.FindDue(ctx, now, limit)
}

func TestUnlockScan_OverlappingRunIsSkipped(t *testing.T) {
	e := newEnv(t)
	repo := &blockingRepo{UnlockRepository: e.repo, entered: make(chan struct{}), release: make(chan struct{})}
	job := NewUnlockScanJob(repo, e.processor, nil, discard, UnlockScanConfig{Now: e.clock.Now})

	done := make(chan error)
	go func() { done <- job.Run(context.Background()) }()
	<-repo.entered

	assert.ErrorIs(t, job.Run(context.Background()), ErrScanInProgress)

	close(repo.release)
	require.NoError(t, <-done)
}

type failingRepo struct {
	*memory.UnlockRepository
}

func (failingRepo) FindDue(context.Context, time.Time, int) ([]*unlock.Schedule, error) {
	return nil, errors.New("connection refused")
}

func (failingRepo) FindPendingNotifications(context.Context, time.Time, int) ([]*unlock.Schedule, error) {
	return nil, errors.New("connection refused")
}

func TestUnlockScan_StoreFailureIsSchedulerError(t *testing.T) {
	e := newEnv(t)
	repo := failingRepo{e.repo}

	err := NewUnlockScanJob(repo, e.processor, nil, discard, UnlockScanConfig{Now: e.clock.Now}).Run(context.Background())
	assert.ErrorIs(t, err, shared.ErrSchedulerFailure)

	err = NewRetryNotificationsJob(repo, e.processor, discard, RetryNotificationsConfig{Now: e.clock.Now}).Run(context.Background())
	assert.ErrorIs(t, err, shared.ErrSchedulerFailure)
}

type fakeLocker struct {
	acquired bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if l.err != nil || !l.acquired {
		return func() {}, false, l.err
	}
	return func() { l.released++ }, true, nil
}

func TestUnlockScan_Lease(t *testing.T) {
	e := newEnv(t)
	e.schedule(t, "a", "m2", base)

	held := &fakeLocker{acquired: false}
	job := NewUnlockScanJob(e.repo, e.processor, held, discard, UnlockScanConfig{Now: e.clock.Now})
	require.NoError(t, job.Run(context.Background()))
	assert.True(t, job.LastStats().LeaseNotTaken)
	assert.Empty(t, e.notifier.sent())

	down := &fakeLocker{err: errors.New("redis down")}
	job = NewUnlockScanJob(e.repo, e.processor, down, discard, UnlockScanConfig{Now: e.clock.Now})
	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, e.notifier.sent(), 1, "lease failure does not stop the scan")

	e.schedule(t, "b", "m3", base)
	free := &fakeLocker{acquired: true}
	job = NewUnlockScanJob(e.repo, e.processor, free, discard, UnlockScanConfig{Now: e.clock.Now})
	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, e.notifier.sent(), 2)
	assert.Equal(t, 1, free.released)
}

func TestRetryNotifications_RedeliversAfterGrace(t *testing.T) {
	e := newEnv(t)
	e.schedule(t, "a", "m2", base)

	e.notifier.fail = true
	scan := NewUnlockScanJob(e.repo, e.processor, nil, discard, UnlockScanConfig{Now: e.clock.Now})
	require.NoError(t, scan.Run(context.Background()))
	assert.Equal(t, 1, scan.LastStats().NotifyFailed)

	e.notifier.fail = false
	retryJob := NewRetryNotificationsJob(e.repo, e.processor, discard, RetryNotificationsConfig{Grace: time.Minute, Now: e.clock.Now})

	require.NoError(t, retryJob.Run(context.Background()))
	assert.Zero(t, retryJob.LastStats().Found, "inside grace period")

	e.clock.Set(base.Add(2 * time.Minute))
	require.NoError(t, retryJob.Run(context.Background()))
	assert.Equal(t, 1, retryJob.LastStats().Delivered)
	assert.Equal(t, []string{"m2|Concurrency|timer_completed"}, e.notifier.sent())

	require.NoError(t, retryJob.Run(context.Background()))
	assert.Zero(t, retryJob.LastStats().Found)
}
