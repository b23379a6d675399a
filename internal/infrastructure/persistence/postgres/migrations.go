package postgres

// Migrations returns all embedded migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_users_and_subjects", UpSQL: migration001Up},
		{Version: 2, Name: "create_unlock_schedules", UpSQL: migration002Up},
		{Version: 3, Name: "create_notifications", UpSQL: migration003Up},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: USERS & SUBJECTS
// Read-only views of data owned by the auth and content services.
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(255) NOT NULL DEFAULT '',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subjects (
    subject_type VARCHAR(16) NOT NULL,
    subject_id VARCHAR(64) NOT NULL,
    title VARCHAR(255) NOT NULL,
    PRIMARY KEY (subject_type, subject_id),
    CONSTRAINT valid_subject_type CHECK (subject_type IN ('module', 'section'))
);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: UNLOCK SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS unlock_schedules (
    id UUID PRIMARY KEY,
    subject_type VARCHAR(16) NOT NULL,
    subject_id VARCHAR(64) NOT NULL,
    module_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    prerequisite_subject_id VARCHAR(64),
    unlock_at TIMESTAMP WITH TIME ZONE NOT NULL,
    is_unlocked BOOLEAN NOT NULL DEFAULT FALSE,
    notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
    unlock_type VARCHAR(32),
    unlocked_at TIMESTAMP WITH TIME ZONE,
    notified_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_schedule_subject_type CHECK (subject_type IN ('module', 'section')),
    CONSTRAINT notified_implies_unlocked CHECK (NOT notification_sent OR is_unlocked),
    UNIQUE (user_id, subject_type, subject_id)
);

-- Scanner: due and still locked
CREATE INDEX IF NOT EXISTS idx_unlock_schedules_due
    ON unlock_schedules(unlock_at) WHERE is_unlocked = FALSE;

-- Retry pass: unlocked but not notified
CREATE INDEX IF NOT EXISTS idx_unlock_schedules_pending_notification
    ON unlock_schedules(unlocked_at) WHERE is_unlocked = TRUE AND notification_sent = FALSE;

CREATE INDEX IF NOT EXISTS idx_unlock_schedules_user ON unlock_schedules(user_id);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS notifications (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    type VARCHAR(32) NOT NULL,
    title VARCHAR(255) NOT NULL,
    message TEXT NOT NULL,
    category VARCHAR(16) NOT NULL DEFAULT 'info',
    data JSONB,
    is_read BOOLEAN NOT NULL DEFAULT FALSE,
    read_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_created
    ON notifications(user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_notifications_user_unread
    ON notifications(user_id) WHERE is_read = FALSE;
`
