// Package memory provides mutex-guarded in-process stores.
// They back local development and tests, and keep the same conditional
// update semantics as the PostgreSQL implementations.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// UnlockRepository implements unlock.Repository in memory.
type UnlockRepository struct {
	mu        sync.Mutex
	schedules map[string]*unlock.Schedule
}

// NewUnlockRepository creates an empty repository.
func NewUnlockRepository() *UnlockRepository {
	return &UnlockRepository{schedules: make(map[string]*unlock.Schedule)}
}

// Create stores a copy of the schedule.
func (r *UnlockRepository) Create(ctx context.Context, s *unlock.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schedules[s.ID]; ok {
		return shared.NewDomainError("unlock", "Create", shared.ErrAlreadyExists, "unlock schedule already exists")
	}
	for _, existing := range r.schedules {
		if existing.UserID == s.UserID && existing.SubjectType == s.SubjectType && existing.SubjectID == s.SubjectID {
			return shared.NewDomainError("unlock", "Create", shared.ErrAlreadyExists, "unlock schedule already exists")
		}
	}
	r.schedules[s.ID] = s.Clone()
	return nil
}

// GetByID returns a copy of the schedule.
func (r *UnlockRepository) GetByID(ctx context.Context, id string) (*unlock.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return nil, shared.ErrScheduleNotFound
	}
	return s.Clone(), nil
}

// FindDue returns due locked schedules ordered by unlock time.
func (r *UnlockRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*unlock.Schedule, error) {
	return r.filter(limit, func(s *unlock.Schedule) bool {
		return s.IsDue(now)
	}, func(s *unlock.Schedule) time.Time { return s.UnlockAt }), nil
}

// MarkUnlocked performs the Pending → Unlocked CAS.
func (r *UnlockRepository) MarkUnlocked(ctx context.Context, id string, unlockType unlock.UnlockType, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return false, nil
	}
	return s.MarkUnlocked(unlockType, at), nil
}

// MarkNotified performs the Unlocked → Notified CAS.
func (r *UnlockRepository) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok || !s.IsUnlocked {
		return false, nil
	}
	return s.MarkNotified(at)
}

// Expedite rewrites the unlock time of a pending schedule.
func (r *UnlockRepository) Expedite(ctx context.Context, id string, newUnlockAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return shared.ErrScheduleNotFound
	}
	return s.Expedite(newUnlockAt)
}

// FindPendingNotifications returns unlocked schedules that were never notified.
func (r *UnlockRepository) FindPendingNotifications(ctx context.Context, unlockedBefore time.Time, limit int) ([]*unlock.Schedule, error) {
	return r.filter(limit, func(s *unlock.Schedule) bool {
		return s.IsUnlocked && !s.NotificationSent && s.UnlockedAt != nil && !s.UnlockedAt.After(unlockedBefore)
	}, func(s *unlock.Schedule) time.Time { return *s.UnlockedAt }), nil
}

// Len returns the number of stored schedules.
func (r *UnlockRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.schedules)
}

func (r *UnlockRepository) filter(limit int, keep func(*unlock.Schedule) bool, key func(*unlock.Schedule) time.Time) []*unlock.Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*unlock.Schedule
	for _, s := range r.schedules {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]).Before(key(out[j])) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
