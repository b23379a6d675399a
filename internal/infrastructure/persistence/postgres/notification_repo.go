package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/unlock-gateway/internal/domain/notification"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION STORE
// ══════════════════════════════════════════════════════════════════════════════

// NotificationRepository implements notification.Store for PostgreSQL.
type NotificationRepository struct {
	conn *Connection
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(conn *Connection) *NotificationRepository {
	return &NotificationRepository{conn: conn}
}

// Create stores a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	var data []byte
	if len(n.Data) > 0 {
		var err error
		data, err = json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal notification data: %w", err)
		}
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, category, data, is_read, read_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		n.ID,
		n.UserID,
		string(n.Type),
		n.Title,
		n.Message,
		string(n.Category),
		data,
		n.IsRead,
		n.ReadAt,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// GetUnreadCount returns the number of unread notifications.
func (r *NotificationRepository) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// GetUserNotifications returns a page of notifications, newest first.
func (r *NotificationRepository) GetUserNotifications(ctx context.Context, userID string, filter notification.ListFilter) (*notification.Page, error) {
	filter = filter.Normalize()

	where := `WHERE user_id = $1`
	switch filter.Status {
	case notification.ReadStatusRead:
		where += ` AND is_read = TRUE`
	case notification.ReadStatusUnread:
		where += ` AND is_read = FALSE`
	}

	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM notifications `+where, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id, user_id, type, title, message, category, data, is_read, read_at, created_at
		FROM notifications `+where+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	items := make([]*notification.Notification, 0, filter.Limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &notification.Page{
		Items:  items,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// MarkAsReadBulk marks the user's notifications as read and returns the affected count.
func (r *NotificationRepository) MarkAsReadBulk(ctx context.Context, userID string, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.conn.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $3
		WHERE user_id = $1 AND id::text = ANY($2) AND is_read = FALSE
	`, userID, ids, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// DeleteNotifications removes the user's notifications and returns the affected count.
func (r *NotificationRepository) DeleteNotifications(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.conn.Exec(ctx,
		`DELETE FROM notifications WHERE user_id = $1 AND id::text = ANY($2)`,
		userID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var (
		n        notification.Notification
		typ      string
		category string
		data     []byte
	)

	err := row.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &category, &data, &n.IsRead, &n.ReadAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}

	n.Type = notification.Type(typ)
	n.Category = notification.Category(category)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification data: %w", err)
		}
	}
	return &n, nil
}
