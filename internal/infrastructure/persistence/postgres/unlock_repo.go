package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK SCHEDULE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UnlockRepository implements unlock.Repository for PostgreSQL.
// State transitions are single conditional UPDATE statements; the affected row
// count tells the caller whether it won the transition.
type UnlockRepository struct {
	conn *Connection
}

// NewUnlockRepository creates a new UnlockRepository.
func NewUnlockRepository(conn *Connection) *UnlockRepository {
	return &UnlockRepository{conn: conn}
}

// validID reports whether id can match the UUID primary key. Anything else
// would fail the cast in postgres, so it is treated as a missing row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const scheduleColumns = `
	id, subject_type, subject_id, module_id, user_id, prerequisite_subject_id,
	unlock_at, is_unlocked, notification_sent, unlock_type, unlocked_at, notified_at,
	created_at, updated_at`

// Create inserts a new schedule.
func (r *UnlockRepository) Create(ctx context.Context, s *unlock.Schedule) error {
	query := `
		INSERT INTO unlock_schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var unlockType *string
	if s.UnlockType != "" {
		v := string(s.UnlockType)
		unlockType = &v
	}

	_, err := r.conn.Exec(ctx, query,
		s.ID,
		string(s.SubjectType),
		s.SubjectID,
		s.ModuleID,
		s.UserID,
		s.PrerequisiteSubjectID,
		s.UnlockAt,
		s.IsUnlocked,
		s.NotificationSent,
		unlockType,
		s.UnlockedAt,
		s.NotifiedAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("unlock", "Create", shared.ErrAlreadyExists, "unlock schedule already exists", err)
		}
		return fmt.Errorf("failed to create unlock schedule: %w", err)
	}

	return nil
}

// GetByID returns a schedule by ID.
func (r *UnlockRepository) GetByID(ctx context.Context, id string) (*unlock.Schedule, error) {
	if !validID(id) {
		return nil, shared.ErrScheduleNotFound
	}
	query := `SELECT ` + scheduleColumns + ` FROM unlock_schedules WHERE id = $1`

	s, err := scanSchedule(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to get unlock schedule: %w", err)
	}
	return s, nil
}

// FindDue returns locked schedules whose unlock time has passed, oldest first.
func (r *UnlockRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*unlock.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM unlock_schedules
		WHERE unlock_at <= $1 AND is_unlocked = FALSE
		ORDER BY unlock_at ASC
	`
	args := []interface{}{now.UTC()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	return r.querySchedules(ctx, query, args...)
}

// MarkUnlocked flips is_unlocked only while it is still false.
func (r *UnlockRepository) MarkUnlocked(ctx context.Context, id string, unlockType unlock.UnlockType, at time.Time) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	query := `
		UPDATE unlock_schedules
		SET is_unlocked = TRUE, unlock_type = $2, unlocked_at = $3, updated_at = $3
		WHERE id = $1 AND is_unlocked = FALSE
	`

	result, err := r.conn.Exec(ctx, query, id, string(unlockType), at.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark schedule unlocked: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// MarkNotified sets notification_sent on an unlocked schedule.
func (r *UnlockRepository) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	query := `
		UPDATE unlock_schedules
		SET notification_sent = TRUE, notified_at = $2, updated_at = $2
		WHERE id = $1 AND is_unlocked = TRUE AND notification_sent = FALSE
	`

	result, err := r.conn.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark schedule notified: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Expedite rewrites unlock_at while the schedule is still pending.
func (r *UnlockRepository) Expedite(ctx context.Context, id string, newUnlockAt time.Time) error {
	if !validID(id) {
		return shared.ErrScheduleNotFound
	}
	query := `
		UPDATE unlock_schedules
		SET unlock_at = $2, updated_at = NOW()
		WHERE id = $1 AND is_unlocked = FALSE
	`

	result, err := r.conn.Exec(ctx, query, id, newUnlockAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to expedite schedule: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: either missing or already unlocked.
	var unlocked bool
	err = r.conn.QueryRow(ctx, `SELECT is_unlocked FROM unlock_schedules WHERE id = $1`, id).Scan(&unlocked)
	if err != nil {
		if IsNoRows(err) {
			return shared.ErrScheduleNotFound
		}
		return fmt.Errorf("failed to check schedule state: %w", err)
	}
	return shared.ErrScheduleAlreadyUnlocked
}

// FindPendingNotifications returns unlocked schedules whose notification was never recorded.
func (r *UnlockRepository) FindPendingNotifications(ctx context.Context, unlockedBefore time.Time, limit int) ([]*unlock.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM unlock_schedules
		WHERE is_unlocked = TRUE AND notification_sent = FALSE AND unlocked_at <= $1
		ORDER BY unlocked_at ASC
	`
	args := []interface{}{unlockedBefore.UTC()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	return r.querySchedules(ctx, query, args...)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func (r *UnlockRepository) querySchedules(ctx context.Context, query string, args ...interface{}) ([]*unlock.Schedule, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlock schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*unlock.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unlock schedule: %w", err)
		}
		schedules = append(schedules, s)
	}

	return schedules, rows.Err()
}

func scanSchedule(row pgx.Row) (*unlock.Schedule, error) {
	var (
		s           unlock.Schedule
		subjectType string
		unlockType  *string
	)

	err := row.Scan(
		&s.ID,
		&subjectType,
		&s.SubjectID,
		&s.ModuleID,
		&s.UserID,
		&s.PrerequisiteSubjectID,
		&s.UnlockAt,
		&s.IsUnlocked,
		&s.NotificationSent,
		&unlockType,
		&s.UnlockedAt,
		&s.NotifiedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.SubjectType = unlock.SubjectType(subjectType)
	if unlockType != nil {
		s.UnlockType = unlock.UnlockType(*unlockType)
	}
	return &s, nil
}
