package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/unlock-gateway/internal/domain/identity"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER & SUBJECT LOOKUPS
// Read models of data owned by the auth and content services.
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements identity.UserFinder for PostgreSQL.
type UserRepository struct {
	conn *Connection
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(conn *Connection) *UserRepository {
	return &UserRepository{conn: conn}
}

// FindUser returns the user or (nil, nil) when absent.
func (r *UserRepository) FindUser(ctx context.Context, userID string) (*identity.User, error) {
	var u identity.User
	err := r.conn.QueryRow(ctx,
		`SELECT id, email, is_active FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Email, &u.Active)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// SubjectRepository implements unlock.ContentDirectory for PostgreSQL.
type SubjectRepository struct {
	conn *Connection
}

// NewSubjectRepository creates a new SubjectRepository.
func NewSubjectRepository(conn *Connection) *SubjectRepository {
	return &SubjectRepository{conn: conn}
}

// GetSubjectTitle returns the title of a module or section.
func (r *SubjectRepository) GetSubjectTitle(ctx context.Context, subjectType unlock.SubjectType, subjectID string) (string, error) {
	var title string
	err := r.conn.QueryRow(ctx,
		`SELECT title FROM subjects WHERE subject_type = $1 AND subject_id = $2`,
		string(subjectType), subjectID,
	).Scan(&title)
	if err != nil {
		if IsNoRows(err) {
			return "", shared.ErrSubjectNotFound
		}
		return "", fmt.Errorf("failed to get subject title: %w", err)
	}
	return title, nil
}
