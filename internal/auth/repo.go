package auth

import (
	"context"
	"database/sql"
	"errors"

	"classtrack/internal/apperr"
)

// Repository persists users in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new user and returns the generated identifier.
func (r *Repository) Insert(ctx context.Context, name, email, phone, passwordHash string, role Role) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, phone, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, name, email, phone, passwordHash, string(role)).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageFailure, err, "insert user")
	}
	return id, nil
}

// ByEmail returns a user and its password hash.
func (r *Repository) ByEmail(ctx context.Context, email string) (User, string, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, password_hash, role
		FROM users WHERE email = $1
	`, email)
	var u User
	var hash, role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &hash, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, "", apperr.New(apperr.KindNotFound, "user %s not found", email)
		}
		return User{}, "", apperr.Wrap(apperr.KindStorageFailure, err, "query user by email")
	}
	u.Role = Role(role)
	return u, hash, nil
}

// ByID returns a user by identifier.
func (r *Repository) ByID(ctx context.Context, id int64) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, role FROM users WHERE id = $1
	`, id)
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperr.New(apperr.KindNotFound, "user %d not found", id)
		}
		return User{}, apperr.Wrap(apperr.KindStorageFailure, err, "query user by id")
	}
	u.Role = Role(role)
	return u, nil
}

// RoleOf resolves an identity to a role; unknown identities resolve to
// RoleNone without error.
func (r *Repository) RoleOf(ctx context.Context, id int64) (Role, error) {
	var role string
	err := r.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1`, id).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, apperr.Wrap(apperr.KindStorageFailure, err, "query role")
	}
	return Role(role), nil
}

// ListByRole returns all users holding a role, ordered by id.
func (r *Repository) ListByRole(ctx context.Context, role Role) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, email, phone, role FROM users WHERE role = $1 ORDER BY id
	`, string(role))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, err, "list users")
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var u User
		var ur string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &ur); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageFailure, err, "scan user")
		}
		u.Role = Role(ur)
		users = append(users, u)
	}
	return users, rows.Err()
}

// Update rewrites the mutable fields of a user.
func (r *Repository) Update(ctx context.Context, u User) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET name = $2, email = $3, phone = $4 WHERE id = $1
	`, u.ID, u.Name, u.Email, u.Phone)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageFailure, err, "update user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "user %d not found", u.ID)
	}
	return nil
}

// Delete removes a user row.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageFailure, err, "delete user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "user %d not found", id)
	}
	return nil
}
