package attendance

import (
	"context"
	"database/sql"
	"time"

	"classtrack/internal/apperr"
)

// Repository persists attendance records in Postgres. The unique index
// on (student_id, session_id) is what makes check-in race-free: the
// existence check and the insert are one statement.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a record unless one already exists for the pair. Returns
// false when the pair was already marked.
func (r *Repository) Insert(ctx context.Context, rec Record) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (student_id, session_id, status, marked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id, session_id) DO NOTHING
	`, rec.StudentID, rec.SessionID, string(rec.Status), rec.MarkedAt)
	if err != nil {
		return false, apperr.Wrap(apperr.KindStorageFailure, err, "insert attendance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.KindStorageFailure, err, "insert attendance")
	}
	return n > 0, nil
}

// FinalizeMissing inserts ABSENT rows for every student of the class
// with no record for the session, and sets the session's finalized flag,
// in one transaction. ON CONFLICT keeps it safe against a check-in
// racing the batch.
func (r *Repository) FinalizeMissing(ctx context.Context, sessionID int64, class string, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageFailure, err, "begin finalize")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance (student_id, session_id, status, marked_at)
		SELECT st.id, $1, 'ABSENT', $3
		FROM students st
		WHERE st.class = $2
		  AND NOT EXISTS (
			SELECT 1 FROM attendance a
			WHERE a.session_id = $1 AND a.student_id = st.id
		  )
		ON CONFLICT (student_id, session_id) DO NOTHING
	`, sessionID, class, now)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageFailure, err, "finalize insert")
	}
	absent, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageFailure, err, "finalize insert")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET finalized = TRUE WHERE id = $1`, sessionID); err != nil {
		return 0, apperr.Wrap(apperr.KindStorageFailure, err, "set finalized flag")
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Wrap(apperr.KindStorageFailure, err, "commit finalize")
	}
	return absent, nil
}

// ForStudent returns a student's records newest first.
func (r *Repository) ForStudent(ctx context.Context, studentID int64) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, session_id, status, marked_at
		FROM attendance
		WHERE student_id = $1
		ORDER BY marked_at DESC
	`, studentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, err, "query records for student")
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.StudentID, &rec.SessionID, &status, &rec.MarkedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageFailure, err, "scan record")
		}
		rec.Status = Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ForSession returns a session's records with student names attached.
func (r *Repository) ForSession(ctx context.Context, sessionID int64) ([]SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.student_id, COALESCE(st.name, 'Unknown'), a.status, a.marked_at
		FROM attendance a
		LEFT JOIN students st ON st.id = a.student_id
		WHERE a.session_id = $1
		ORDER BY a.marked_at
	`, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, err, "query records for session")
	}
	defer rows.Close()
	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var status string
		if err := rows.Scan(&rec.StudentID, &rec.StudentName, &status, &rec.MarkedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageFailure, err, "scan session record")
		}
		rec.Status = Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteByStudent removes all records for a student, reporting how many.
func (r *Repository) DeleteByStudent(ctx context.Context, studentID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance WHERE student_id = $1`, studentID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageFailure, err, "delete attendance by student")
	}
	return res.RowsAffected()
}

// DeleteBySession removes all records for a session, reporting how many.
func (r *Repository) DeleteBySession(ctx context.Context, sessionID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageFailure, err, "delete attendance by session")
	}
	return res.RowsAffected()
}

// HasRecords reports whether any attendance row references the student.
// Used by the student directory's referential delete guard.
func (r *Repository) HasRecords(ctx context.Context, studentID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance WHERE student_id = $1)
	`, studentID).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.KindStorageFailure, err, "check attendance references")
	}
	return exists, nil
}
