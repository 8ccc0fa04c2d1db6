package store

import (
	"context"
	"fmt"
)

// schema is shared by Postgres and SQLite; only portable types are used.
const schema = `
CREATE TABLE IF NOT EXISTS kiosks (
	kiosk_id      TEXT PRIMARY KEY,
	registered_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token      TEXT PRIMARY KEY,
	kiosk_id   TEXT NOT NULL REFERENCES kiosks(kiosk_id),
	expires_at TIMESTAMP NOT NULL,
	revoked    BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS students (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	class_name           TEXT NOT NULL DEFAULT '',
	department           TEXT NOT NULL DEFAULT '',
	faculty              TEXT NOT NULL DEFAULT '',
	face_template        BYTEA,
	fingerprint_template BYTEA
);

CREATE TABLE IF NOT EXISTS courses (
	id   TEXT PRIMARY KEY,
	code TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS student_courses (
	student_id TEXT NOT NULL REFERENCES students(id),
	course_id  TEXT NOT NULL REFERENCES courses(id),
	status     TEXT NOT NULL DEFAULT 'active',
	PRIMARY KEY (student_id, course_id)
);

CREATE TABLE IF NOT EXISTS exam_sessions (
	id               TEXT PRIMARY KEY,
	course_id        TEXT NOT NULL REFERENCES courses(id),
	kiosk_id         TEXT NOT NULL,
	starts_at        TIMESTAMP NOT NULL,
	duration_minutes INTEGER NOT NULL,
	location         TEXT NOT NULL DEFAULT '',
	is_active        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS verification_attempts (
	id                TEXT PRIMARY KEY,
	occurred_at       TIMESTAMP NOT NULL,
	kiosk_id          TEXT NOT NULL,
	exam_session_id   TEXT,
	student_id        TEXT,
	face_score        DOUBLE PRECISION,
	fingerprint_score DOUBLE PRECISION,
	verdict           TEXT NOT NULL,
	reason            TEXT,
	error_detail      TEXT
);

CREATE INDEX IF NOT EXISTS idx_exam_sessions_kiosk ON exam_sessions(kiosk_id, is_active);
CREATE INDEX IF NOT EXISTS idx_attempts_session ON verification_attempts(exam_session_id);
CREATE INDEX IF NOT EXISTS idx_attempts_student ON verification_attempts(student_id);
CREATE INDEX IF NOT EXISTS idx_attempts_time ON verification_attempts(occurred_at);
`

// Migrate creates the schema if it does not exist.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
