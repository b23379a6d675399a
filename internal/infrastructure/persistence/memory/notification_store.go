package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/unlock-gateway/internal/domain/identity"
	"github.com/alem-hub/unlock-gateway/internal/domain/notification"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION STORE
// ══════════════════════════════════════════════════════════════════════════════

// NotificationStore implements notification.Store in memory.
type NotificationStore struct {
	mu     sync.RWMutex
	byUser map[string][]*notification.Notification
}

// NewNotificationStore creates an empty store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{byUser: make(map[string][]*notification.Notification)}
}

// Create stores a copy of n.
func (s *NotificationStore) Create(ctx context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *n
	s.byUser[n.UserID] = append(s.byUser[n.UserID], &c)
	return nil
}

// GetUnreadCount counts the user's unread notifications.
func (s *NotificationStore) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.byUser[userID] {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

// GetUserNotifications returns a newest-first page.
func (s *NotificationStore) GetUserNotifications(ctx context.Context, userID string, filter notification.ListFilter) (*notification.Page, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	var matched []*notification.Notification
	for _, n := range s.byUser[userID] {
		switch filter.Status {
		case notification.ReadStatusRead:
			if !n.IsRead {
				continue
			}
		case notification.ReadStatusUnread:
			if n.IsRead {
				continue
			}
		}
		c := *n
		matched = append(matched, &c)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	page := &notification.Page{
		Items:  []*notification.Notification{},
		Total:  len(matched),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	if filter.Offset < len(matched) {
		end := filter.Offset + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Items = matched[filter.Offset:end]
	}
	return page, nil
}

// MarkAsReadBulk marks the listed notifications of userID as read.
func (s *NotificationStore) MarkAsReadBulk(ctx context.Context, userID string, ids []string, at time.Time) (int, error) {
	want := toSet(ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, n := range s.byUser[userID] {
		if _, ok := want[n.ID]; ok && n.MarkRead(at) {
			changed++
		}
	}
	return changed, nil
}

// DeleteNotifications removes the listed notifications of userID.
func (s *NotificationStore) DeleteNotifications(ctx context.Context, userID string, ids []string) (int, error) {
	want := toSet(ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.byUser[userID][:0]
	deleted := 0
	for _, n := range s.byUser[userID] {
		if _, ok := want[n.ID]; ok {
			deleted++
			continue
		}
		kept = append(kept, n)
	}
	s.byUser[userID] = kept
	return deleted, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// ══════════════════════════════════════════════════════════════════════════════
// DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

// Directory is an in-memory users and subject-titles lookup.
// It implements identity.UserFinder and unlock.ContentDirectory.
type Directory struct {
	mu       sync.RWMutex
	users    map[string]*identity.User
	subjects map[string]string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		users:    make(map[string]*identity.User),
		subjects: make(map[string]string),
	}
}

// PutUser registers a user.
func (d *Directory) PutUser(u identity.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = &u
}

// PutSubject registers a subject title.
func (d *Directory) PutSubject(subjectType unlock.SubjectType, subjectID, title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subjects[string(subjectType)+":"+subjectID] = title
}

// FindUser returns the user or (nil, nil) when absent.
func (d *Directory) FindUser(ctx context.Context, userID string) (*identity.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

// GetSubjectTitle returns a registered title.
func (d *Directory) GetSubjectTitle(ctx context.Context, subjectType unlock.SubjectType, subjectID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	title, ok := d.subjects[string(subjectType)+":"+subjectID]
	if !ok {
		return "", shared.ErrSubjectNotFound
	}
	return title, nil
}
