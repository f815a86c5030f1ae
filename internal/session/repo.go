package session

import (
	"context"
	"database/sql"
	"errors"

	"classtrack/internal/apperr"
	"classtrack/internal/geo"
)

// Repository persists sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new session and returns the generated identifier. The
// unique constraint on session_code backs the code-uniqueness invariant.
func (r *Repository) Insert(ctx context.Context, s Session) (int64, error) {
	var lat, lng *float64
	if s.Geofence != nil {
		lat, lng = &s.Geofence.Lat, &s.Geofence.Lng
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (session_name, session_code, expiry_time, created_by, class, latitude, longitude, radius_km)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, s.Name, s.Code, s.Expiry, s.CreatedBy, s.Class, lat, lng, s.RadiusKm).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageFailure, err, "insert session")
	}
	return id, nil
}

// Get returns a session by id.
func (r *Repository) Get(ctx context.Context, id int64) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_name, session_code, expiry_time, created_by, class, latitude, longitude, radius_km, finalized
		FROM sessions WHERE id = $1
	`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, apperr.New(apperr.KindNotFound, "session %d not found", id)
		}
		return Session{}, apperr.Wrap(apperr.KindStorageFailure, err, "query session")
	}
	return s, nil
}

// List returns all sessions ordered by id.
func (r *Repository) List(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_name, session_code, expiry_time, created_by, class, latitude, longitude, radius_km, finalized
		FROM sessions ORDER BY id
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, err, "list sessions")
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorageFailure, err, "scan session")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a session row. It intentionally does not consult the
// attendance table; cleaning up a session's attendance is a separate
// ledger operation.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageFailure, err, "delete session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "session %d not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var lat, lng sql.NullFloat64
	var radius sql.NullFloat64
	if err := row.Scan(&s.ID, &s.Name, &s.Code, &s.Expiry, &s.CreatedBy, &s.Class, &lat, &lng, &radius, &s.Finalized); err != nil {
		return Session{}, err
	}
	if lat.Valid && lng.Valid {
		s.Geofence = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if radius.Valid {
		s.RadiusKm = &radius.Float64
	}
	return s, nil
}
