package verification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository reads templates and sessions and appends attempts in a SQL store
// (Postgres via pgx, or SQLite).
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetStudentTemplates returns a student with templates and enrollments.
func (r *Repository) GetStudentTemplates(ctx context.Context, studentID string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, class_name, department, faculty, face_template, fingerprint_template
		FROM students WHERE id = $1
	`, studentID)
	var st Student
	var face, finger []byte
	if err := row.Scan(&st.ID, &st.Name, &st.ClassName, &st.Department, &st.Faculty, &face, &finger); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, storeFault(err)
	}
	st.FaceTemplate = face
	st.FingerprintTemplate = finger

	rows, err := r.db.QueryContext(ctx, `
		SELECT course_id, status FROM student_courses
		WHERE student_id = $1
		ORDER BY course_id
	`, studentID)
	if err != nil {
		return Student{}, storeFault(err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Enrollment
		var status string
		if err := rows.Scan(&e.CourseID, &status); err != nil {
			return Student{}, storeFault(err)
		}
		e.Status = EnrollmentStatus(status)
		st.Enrollments = append(st.Enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return Student{}, storeFault(err)
	}
	return st, nil
}

// ListAllFaceTemplates returns every enrolled face template ordered by student id.
func (r *Repository) ListAllFaceTemplates(ctx context.Context) ([]FaceTemplateEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, face_template FROM students
		WHERE face_template IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, storeFault(err)
	}
	defer rows.Close()

	var out []FaceTemplateEntry
	for rows.Next() {
		var entry FaceTemplateEntry
		var tmpl []byte
		if err := rows.Scan(&entry.StudentID, &tmpl); err != nil {
			return nil, storeFault(err)
		}
		if len(tmpl) == 0 {
			continue
		}
		entry.Template = tmpl
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFault(err)
	}
	return out, nil
}

const sessionColumns = `id, course_id, kiosk_id, starts_at, duration_minutes, location, is_active`

// GetActiveSession returns the kiosk's active exam session, nil when there is
// none and ErrMultipleActiveSessions when more than one is flagged.
func (r *Repository) GetActiveSession(ctx context.Context, kioskID string) (*ExamSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM exam_sessions
		WHERE kiosk_id = $1 AND is_active = $2
		ORDER BY id
		LIMIT 2
	`, kioskID, true)
	if err != nil {
		return nil, storeFault(err)
	}
	defer rows.Close()

	var sessions []ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storeFault(err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFault(err)
	}

	switch len(sessions) {
	case 0:
		return nil, nil
	case 1:
		return &sessions[0], nil
	default:
		return nil, fmt.Errorf("kiosk %s: %w", kioskID, ErrMultipleActiveSessions)
	}
}

// GetSession returns a single exam session by id, or nil when unknown.
func (r *Repository) GetSession(ctx context.Context, id string) (*ExamSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeFault(err)
	}
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (ExamSession, error) {
	var s ExamSession
	var minutes int64
	if err := row.Scan(&s.ID, &s.CourseID, &s.KioskID, &s.StartsAt, &minutes, &s.Location, &s.Active); err != nil {
		return ExamSession{}, err
	}
	s.Duration = time.Duration(minutes) * time.Minute
	return s, nil
}

// Record appends an attempt in a single statement. An id that was already
// written is reported as ErrDuplicateAttempt and left untouched.
func (r *Repository) Record(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		return errors.New("attempt id required")
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_attempts
			(id, occurred_at, kiosk_id, exam_session_id, student_id, face_score, fingerprint_score, verdict, reason, error_detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.Timestamp.UTC(), a.KioskID, nullString(a.ExamSessionID), nullString(a.StudentID),
		a.FaceScore, a.FingerprintScore, string(a.Verdict), nullString(string(a.Reason)), nullString(a.ErrorDetail))
	if err != nil {
		return storeFault(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeFault(err)
	}
	if n == 0 {
		return fmt.Errorf("attempt %s: %w", a.ID, ErrDuplicateAttempt)
	}
	return nil
}

const attemptColumns = `id, occurred_at, kiosk_id, exam_session_id, student_id, face_score, fingerprint_score, verdict, reason, error_detail`

// GetAttempt returns a single attempt by id.
func (r *Repository) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM verification_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrAttemptNotFound
		}
		return Attempt{}, storeFault(err)
	}
	return a, nil
}

// AttemptFilter narrows attempt listings. Empty fields match everything.
type AttemptFilter struct {
	KioskID       string
	ExamSessionID string
	StudentID     string
	Verdict       Verdict
	Limit         int
	Offset        int
}

// ListAttempts returns attempts newest first.
func (r *Repository) ListAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + attemptColumns + ` FROM verification_attempts`
	args := []any{}
	clauses := []string{}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("kiosk_id", f.KioskID)
	add("exam_session_id", f.ExamSessionID)
	add("student_id", f.StudentID)
	add("verdict", string(f.Verdict))
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeFault(err)
	}
	defer rows.Close()
	var res []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, storeFault(err)
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFault(err)
	}
	return res, nil
}

func scanAttempt(row scanner) (Attempt, error) {
	var a Attempt
	var session, student, reason, detail sql.NullString
	var verdict string
	if err := row.Scan(&a.ID, &a.Timestamp, &a.KioskID, &session, &student, &a.FaceScore, &a.FingerprintScore, &verdict, &reason, &detail); err != nil {
		return Attempt{}, err
	}
	a.Timestamp = a.Timestamp.UTC()
	a.ExamSessionID = session.String
	a.StudentID = student.String
	a.Verdict = Verdict(verdict)
	a.Reason = Reason(reason.String)
	a.ErrorDetail = detail.String
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
