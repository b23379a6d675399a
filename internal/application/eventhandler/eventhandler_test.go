package eventhandler

import (
	"context"
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
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/messaging"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/persistence/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type progressCall struct {
	kind     string
	userID   string
	id       string
	amount   int
	xpEarned *int
}

type fakeProgressNotifier struct {
	mu    sync.Mutex
	calls []progressCall
}

func (f *fakeProgressNotifier) NotifyAchievement(_ context.Context, userID, achievementID, _, _ string, xpEarned *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, progressCall{kind: "achievement", userID: userID, id: achievementID, xpEarned: xpEarned})
	return nil
}

func (f *fakeProgressNotifier) NotifyXPEarned(_ context.Context, userID string, amount int, reason, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, progressCall{kind: "xp", userID: userID, id: reason, amount: amount})
	return nil
}

func newBus(t *testing.T) *messaging.InMemoryEventBus {
	t.Helper()
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: discard})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestSubjectCompleted_CreatesSchedule(t *testing.T) {
	repo := memory.NewUnlockRepository()
	bus := newBus(t)
	scheduler := command.NewScheduleUnlockHandler(repo, nil, discard, nil)
	require.NoError(t, Register(bus, NewOnSubjectCompletedHandler(scheduler, discard, DefaultSubjectCompletedConfig()), nil))

	event := shared.NewSubjectCompletedEvent("u1", "m1", "module", "m2", 48*time.Hour)
	require.NoError(t, bus.Publish(event))

	due, err := repo.FindDue(context.Background(), event.OccurredAt().Add(48*time.Hour+time.Second), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)

	s := due[0]
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, unlock.SubjectModule, s.SubjectType)
	assert.Equal(t, "m2", s.SubjectID)
	require.NotNil(t, s.PrerequisiteSubjectID)
	assert.Equal(t, "m1", *s.PrerequisiteSubjectID)
	assert.WithinDuration(t, event.OccurredAt().Add(48*time.Hour), s.UnlockAt, time.Second)

	early, _ := repo.FindDue(context.Background(), event.OccurredAt().Add(47*time.Hour), 0)
	assert.Empty(t, early)
}

func TestSubjectCompleted_DefaultsAndDuplicates(t *testing.T) {
	repo := memory.NewUnlockRepository()
	scheduler := command.NewScheduleUnlockHandler(repo, nil, discard, nil)
	h := NewOnSubjectCompletedHandler(scheduler, discard, SubjectCompletedConfig{DefaultWaitingPeriod: time.Hour})

	event := shared.NewSubjectCompletedEvent("u1", "m1", "module", "m2", 0)
	require.NoError(t, h.Handle(event))
	assert.NoError(t, h.Handle(event), "a repeated completion is not an error")
	assert.Equal(t, 1, repo.Len())

	due, _ := repo.FindDue(context.Background(), event.OccurredAt().Add(time.Hour+time.Second), 0)
	assert.Len(t, due, 1)

	assert.NoError(t, h.Handle(shared.NewSubjectCompletedEvent("u1", "m9", "", "", 0)))
	assert.Equal(t, 1, repo.Len())

	err := h.Handle(shared.NewSubjectCompletedEvent("u1", "m1", "chapter", "c1", time.Hour))
	assert.Error(t, err)

	assert.NoError(t, h.Handle(shared.NewXPGainedEvent("u1", 5, "task", "")))
}

func TestProgress_ForwardsToNotifier(t *testing.T) {
	bus := newBus(t)
	notifier := &fakeProgressNotifier{}
	require.NoError(t, Register(bus, nil, NewOnProgressHandler(notifier, discard)))

	xp := 50
	require.NoError(t, bus.Publish(shared.NewAchievementEarnedEvent("u1", "a1", "First Steps", "m1", &xp)))
	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", 15, "task_completed", "m1")))
	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", 0, "noop", "")))

	require.Len(t, notifier.calls, 2)
	assert.Equal(t, "achievement", notifier.calls[0].kind)
	assert.Equal(t, "a1", notifier.calls[0].id)
	require.NotNil(t, notifier.calls[0].xpEarned)
	assert.Equal(t, 50, *notifier.calls[0].xpEarned)

	assert.Equal(t, "xp", notifier.calls[1].kind)
	assert.Equal(t, 15, notifier.calls[1].amount)
	assert.Equal(t, "task_completed", notifier.calls[1].id)
}
