package student

import (
	"context"
	"database/sql"
	"errors"

	"classtrack/internal/apperr"
)

// Repository persists students in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new student with its externally assigned id.
func (r *Repository) Insert(ctx context.Context, s Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, class, email, phone)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.Name, s.Class, s.Email, s.Phone)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageFailure, err, "insert student")
	}
	return nil
}

// Get returns a student by id.
func (r *Repository) Get(ctx context.Context, id int64) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, class, email, phone FROM students WHERE id = $1
	`, id)
	var s Student
	if err := row.Scan(&s.ID, &s.Name, &s.Class, &s.Email, &s.Phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, apperr.New(apperr.KindNotFound, "student %d not found", id)
		}
		return Student{}, apperr.Wrap(apperr.KindStorageFailure, err, "query student")
	}
	return s, nil
}

// List returns all students ordered by id.
func (r *Repository) List(ctx context.Context) ([]Student, error) {
	return r.queryStudents(ctx, `SELECT id, name, class, email, phone FROM students ORDER BY id`)
}

// ListByClass returns the roster of one class ordered by id.
func (r *Repository) ListByClass(ctx context.Context, class string) ([]Student, error) {
	return r.queryStudents(ctx, `SELECT id, name, class, email, phone FROM students WHERE class = $1 ORDER BY id`, class)
}

func (r *Repository) queryStudents(ctx context.Context, query string, args ...any) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, err, "list students")
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Class, &s.Email, &s.Phone); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageFailure, err, "scan student")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update rewrites the mutable fields of a student.
func (r *Repository) Update(ctx context.Context, s Student) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET name = $2, class = $3, email = $4, phone = $5 WHERE id = $1
	`, s.ID, s.Name, s.Class, s.Email, s.Phone)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageFailure, err, "update student")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "student %d not found", s.ID)
	}
	return nil
}

// Delete removes a student row. The referential guard against attendance
// records lives in the directory, which checks before calling this.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageFailure, err, "delete student")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "student %d not found", id)
	}
	return nil
}
