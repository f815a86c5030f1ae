package auth

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"classtrack/internal/apperr"
)

// User is a privileged account (teacher or admin).
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  Role   `json:"role"`
}

// UserStore persists user accounts.
type UserStore interface {
	Insert(ctx context.Context, name, email, phone, passwordHash string, role Role) (int64, error)
	ByEmail(ctx context.Context, email string) (User, string, error)
	ByID(ctx context.Context, id int64) (User, error)
	RoleOf(ctx context.Context, id int64) (Role, error)
	ListByRole(ctx context.Context, role Role) ([]User, error)
	Update(ctx context.Context, u User) error
	Delete(ctx context.Context, id int64) error
}

// Users implements registration, login and teacher management on top of a
// UserStore. It is also the role oracle for the rest of the system.
type Users struct {
	store      UserStore
	jwtIssuer  string
	signingKey string
	accessTTL  time.Duration
}

// NewUsers creates the user service.
func NewUsers(store UserStore, jwtIssuer, signingKey string, accessTTL time.Duration) *Users {
	return &Users{store: store, jwtIssuer: jwtIssuer, signingKey: signingKey, accessTTL: accessTTL}
}

// RoleOf implements Oracle. A missing user resolves to RoleNone.
func (u *Users) RoleOf(ctx context.Context, userID int64) (Role, error) {
	return u.store.RoleOf(ctx, userID)
}

// Register creates a new privileged account.
func (u *Users) Register(ctx context.Context, name, email, phone, password string, role Role) (int64, error) {
	if name == "" || email == "" || phone == "" || password == "" {
		return 0, apperr.New(apperr.KindInvalidInput, "all fields are required")
	}
	if !role.Privileged() {
		return 0, apperr.New(apperr.KindInvalidInput, "invalid role %q", role)
	}
	if _, _, err := u.store.ByEmail(ctx, email); err == nil {
		return 0, apperr.New(apperr.KindInvalidInput, "user already exists with email %s", email)
	} else if !apperr.NotFound(err) {
		return 0, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageFailure, err, "hash password")
	}
	return u.store.Insert(ctx, name, email, phone, string(hash), role)
}

// Login verifies credentials and issues an access token.
func (u *Users) Login(ctx context.Context, email, password string) (User, Token, error) {
	user, hash, err := u.store.ByEmail(ctx, email)
	if err != nil {
		if apperr.NotFound(err) {
			return User{}, Token{}, apperr.New(apperr.KindUnauthorized, "invalid credentials")
		}
		return User{}, Token{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, Token{}, apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}
	if !user.Role.Privileged() {
		return User{}, Token{}, apperr.New(apperr.KindUnauthorized, "only admin or teacher can login")
	}
	tok, err := Issue(user.ID, user.Role, u.jwtIssuer, u.signingKey, u.accessTTL)
	if err != nil {
		return User{}, Token{}, apperr.Wrap(apperr.KindStorageFailure, err, "sign token")
	}
	return user, tok, nil
}

// AddTeacher creates a teacher account. Admin only.
func (u *Users) AddTeacher(ctx context.Context, actor Actor, name, email, phone, password string) (int64, error) {
	if actor.Role != RoleAdmin {
		return 0, apperr.New(apperr.KindUnauthorized, "only admin can add teacher")
	}
	return u.Register(ctx, name, email, phone, password, RoleTeacher)
}

// Teachers lists teacher accounts. Admin only.
func (u *Users) Teachers(ctx context.Context, actor Actor) ([]User, error) {
	if actor.Role != RoleAdmin {
		return nil, apperr.New(apperr.KindUnauthorized, "only admin can view teachers")
	}
	teachers, err := u.store.ListByRole(ctx, RoleTeacher)
	if err != nil {
		return nil, err
	}
	if len(teachers) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "no teachers found")
	}
	return teachers, nil
}

// UpdateTeacher applies partial updates, keeping old values for fields
// left empty.
func (u *Users) UpdateTeacher(ctx context.Context, actor Actor, id int64, name, email, phone string) error {
	if !actor.Role.Privileged() {
		return apperr.New(apperr.KindUnauthorized, "not authorized to update teacher")
	}
	existing, err := u.store.ByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.Role != RoleTeacher {
		return apperr.New(apperr.KindInvalidInput, "user %d is not a teacher", id)
	}
	if name = strings.TrimSpace(name); name != "" {
		existing.Name = name
	}
	if email = strings.TrimSpace(email); email != "" {
		existing.Email = email
	}
	if phone = strings.TrimSpace(phone); phone != "" {
		existing.Phone = phone
	}
	return u.store.Update(ctx, existing)
}

// DeleteTeacher removes a teacher account. Admin only.
func (u *Users) DeleteTeacher(ctx context.Context, actor Actor, id int64) (User, error) {
	if actor.Role != RoleAdmin {
		return User{}, apperr.New(apperr.KindUnauthorized, "only admin can delete teacher")
	}
	existing, err := u.store.ByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if existing.Role != RoleTeacher {
		return User{}, apperr.New(apperr.KindNotFound, "teacher %d not found", id)
	}
	if err := u.store.Delete(ctx, id); err != nil {
		return User{}, err
	}
	return existing, nil
}
