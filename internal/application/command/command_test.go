package command

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

	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/unlock-gateway/pkg/retry"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type notifyCall struct {
	UserID, ModuleID, SectionID, Title string
	UnlockType                         unlock.UnlockType
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (f *fakeNotifier) NotifyModuleUnlock(ctx context.Context, userID, moduleID, title string, t unlock.UnlockType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{UserID: userID, ModuleID: moduleID, Title: title, UnlockType: t})
	return f.err
}

func (f *fakeNotifier) NotifySectionUnlock(ctx context.Context, userID, moduleID, sectionID, title string, t unlock.UnlockType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{UserID: userID, ModuleID: moduleID, SectionID: sectionID, Title: title, UnlockType: t})
	return f.err
}

func (f *fakeNotifier) Calls() []notifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifyCall(nil), f.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type fixture struct {
	repo      *memory.UnlockRepository
	dir       *memory.Directory
	notifier  *fakeNotifier
	publisher *recordingPublisher
	processor *UnlockProcessor
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      memory.NewUnlockRepository(),
		dir:       memory.NewDirectory(),
		notifier:  &fakeNotifier{},
		publisher: &recordingPublisher{},
		now:       base,
	}
	f.dir.PutSubject(unlock.SubjectModule, "m2", "Concurrency")
	f.dir.PutSubject(unlock.SubjectSection, "s7", "Channels")
	f.processor = NewUnlockProcessor(f.repo, f.dir, f.notifier, f.publisher,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		UnlockProcessorConfig{
			Now:         func() time.Time { return f.now },
			MarkRetrier: retry.New(retry.WithMaxAttempts(1)),
		})
	return f
}

func (f *fixture) create(t *testing.T, id string, subjectType unlock.SubjectType, subjectID string, unlockAt time.Time) *unlock.Schedule {
	t.Helper()
	s, err := unlock.NewSchedule(unlock.NewScheduleParams{
		ID: id, SubjectType: subjectType, SubjectID: subjectID, ModuleID: "m2", UserID: "u1", UnlockAt: unlockAt,
	}, base)
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(context.Background(), s))
	return s
}

func TestUnlockProcessor_UnlocksAndNotifiesModule(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", unlock.SubjectModule, "m2", base)

	res, err := f.processor.Unlock(context.Background(), s, unlock.UnlockTimerCompleted)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, res.Outcome)
	assert.Equal(t, "Concurrency", res.Title)

	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, notifyCall{UserID: "u1", ModuleID: "m2", Title: "Concurrency", UnlockType: unlock.UnlockTimerCompleted}, calls[0])

	stored, _ := f.repo.GetByID(context.Background(), "a")
	assert.Equal(t, unlock.StateNotified, stored.State())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, shared.EventSubjectUnlocked, f.publisher.events[0].EventType())
}

func TestUnlockProcessor_SectionUsesParentModule(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", unlock.SubjectSection, "s7", base)

	_, err := f.processor.Unlock(context.Background(), s, unlock.UnlockTimerCompleted)
	require.NoError(t, err)

	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "m2", calls[0].ModuleID)
	assert.Equal(t, "s7", calls[0].SectionID)
	assert.Equal(t, "Channels", calls[0].Title)
}

func TestUnlockProcessor_SecondCallLosesCAS(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", unlock.SubjectModule, "m2", base)

	_, err := f.processor.Unlock(context.Background(), s, unlock.UnlockTimerCompleted)
	require.NoError(t, err)
	res, err := f.processor.Unlock(context.Background(), s, unlock.UnlockTimerCompleted)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAlreadyUnlocked, res.Outcome)
	assert.Len(t, f.notifier.Calls(), 1)
}

func TestUnlockProcessor_NotifyFailureLeavesUnnotified(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("dispatcher closed")
	s := f.create(t, "a", unlock.SubjectModule, "m9", base)

	res, err := f.processor.Unlock(context.Background(), s, unlock.UnlockTimerCompleted)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotifyFailed, res.Outcome)
	assert.Error(t, res.NotifyErr)
	assert.Equal(t, "m9", res.Title, "unknown title falls back to id")

	stored, _ := f.repo.GetByID(context.Background(), "a")
	assert.Equal(t, unlock.StateUnlocked, stored.State())

	f.notifier.err = nil
	res, err = f.processor.Renotify(context.Background(), stored)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, res.Outcome)
	assert.Equal(t, unlock.UnlockTimerCompleted, res.UnlockType)

	stored, _ = f.repo.GetByID(context.Background(), "a")
	assert.Equal(t, unlock.StateNotified, stored.State())
}

func TestUnlockProcessor_RenotifyRejectsLockedSchedule(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", unlock.SubjectModule, "m2", base)

	_, err := f.processor.Renotify(context.Background(), s)
	assert.True(t, shared.IsInvalidState(err))
	assert.Empty(t, f.notifier.Calls())
}

func TestExpediteUnlock(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a", unlock.SubjectModule, "m2", base.Add(24*time.Hour))
	h := NewExpediteUnlockHandler(f.repo, f.processor)

	_, err := h.ExpediteUnlock(context.Background(), "a", unlock.UnlockTimerCompleted)
	assert.True(t, shared.IsValidation(err), "timer_completed is not a manual type")

	res, err := h.ExpediteUnlock(context.Background(), "a", unlock.UnlockExpedited)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, res.Outcome)

	stored, _ := f.repo.GetByID(context.Background(), "a")
	assert.Equal(t, base, stored.UnlockAt)
	assert.Equal(t, unlock.UnlockExpedited, stored.UnlockType)

	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, unlock.UnlockExpedited, calls[0].UnlockType)

	_, err = h.ExpediteUnlock(context.Background(), "a", unlock.UnlockAdminAction)
	assert.True(t, shared.IsInvalidState(err))
	assert.Len(t, f.notifier.Calls(), 1, "rejected expedite sends nothing")

	_, err = h.ExpediteUnlock(context.Background(), "missing", unlock.UnlockAdminAction)
	assert.True(t, shared.IsNotFound(err))
}

func TestScheduleUnlock(t *testing.T) {
	f := newFixture(t)
	h := NewScheduleUnlockHandler(f.repo, f.publisher, slog.New(slog.NewTextHandler(io.Discard, nil)), func() time.Time { return base })

	s, err := h.Handle(context.Background(), ScheduleUnlockCommand{
		UserID:                "u1",
		SubjectType:           unlock.SubjectModule,
		SubjectID:             "m2",
		PrerequisiteSubjectID: "m1",
		WaitingPeriod:         24 * time.Hour,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, base.Add(24*time.Hour), s.UnlockAt)
	require.NotNil(t, s.PrerequisiteSubjectID)
	assert.Equal(t, "m1", *s.PrerequisiteSubjectID)
	assert.Equal(t, 1, f.repo.Len())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, shared.EventScheduleCreated, f.publisher.events[0].EventType())

	_, err = h.Handle(context.Background(), ScheduleUnlockCommand{UserID: "u1", SubjectType: unlock.SubjectModule, SubjectID: "m2"})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	_, err = h.Handle(context.Background(), ScheduleUnlockCommand{UserID: "u1", SubjectType: "quiz", SubjectID: "q1"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), ScheduleUnlockCommand{UserID: "u1", SubjectType: unlock.SubjectModule, SubjectID: "m3", WaitingPeriod: -time.Hour})
	assert.True(t, shared.IsValidation(err))
}
