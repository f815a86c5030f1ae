package student

import (
	"context"
	"strings"

	"classtrack/internal/apperr"
	"classtrack/internal/auth"
)

// Student is an enrolled student. The identifier is externally assigned
// at enrollment, never generated and never reused.
type Student struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Store persists students.
type Store interface {
	Insert(ctx context.Context, s Student) error
	Get(ctx context.Context, id int64) (Student, error)
	List(ctx context.Context) ([]Student, error)
	ListByClass(ctx context.Context, class string) ([]Student, error)
	Update(ctx context.Context, s Student) error
	Delete(ctx context.Context, id int64) error
}

// RecordChecker answers whether attendance rows reference a student.
// Satisfied by the attendance repository.
type RecordChecker interface {
	HasRecords(ctx context.Context, studentID int64) (bool, error)
}

// Directory manages the student roster.
type Directory struct {
	store   Store
	records RecordChecker
}

// NewDirectory creates a directory.
func NewDirectory(store Store, records RecordChecker) *Directory {
	return &Directory{store: store, records: records}
}

// Add enrolls a student with an externally assigned identifier.
func (d *Directory) Add(ctx context.Context, actor auth.Actor, s Student) error {
	if !actor.Role.Privileged() {
		return apperr.New(apperr.KindUnauthorized, "user not authorized to add students")
	}
	if s.ID <= 0 || s.Name == "" || s.Class == "" || s.Email == "" || s.Phone == "" {
		return apperr.New(apperr.KindInvalidInput, "id, name, class, email and phone are required")
	}
	if _, err := d.store.Get(ctx, s.ID); err == nil {
		return apperr.New(apperr.KindInvalidInput, "student %d already exists", s.ID)
	} else if !apperr.NotFound(err) {
		return err
	}
	return d.store.Insert(ctx, s)
}

// Get returns a student by identifier.
func (d *Directory) Get(ctx context.Context, id int64) (Student, error) {
	return d.store.Get(ctx, id)
}

// List returns the full roster for a privileged caller.
func (d *Directory) List(ctx context.Context, actor auth.Actor) ([]Student, error) {
	if !actor.Role.Privileged() {
		return nil, apperr.New(apperr.KindUnauthorized, "user not authorized to view students")
	}
	students, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "no students found")
	}
	return students, nil
}

// ListByClass returns the roster of one class.
func (d *Directory) ListByClass(ctx context.Context, actor auth.Actor, class string) ([]Student, error) {
	if !actor.Role.Privileged() {
		return nil, apperr.New(apperr.KindUnauthorized, "user not authorized to view students")
	}
	students, err := d.store.ListByClass(ctx, class)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "no students found for class %s", class)
	}
	return students, nil
}

// Update applies partial updates, keeping old values for empty fields.
func (d *Directory) Update(ctx context.Context, actor auth.Actor, id int64, name, email, class, phone string) error {
	if !actor.Role.Privileged() {
		return apperr.New(apperr.KindUnauthorized, "user not authorized to update students")
	}
	existing, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if name = strings.TrimSpace(name); name != "" {
		existing.Name = name
	}
	if email = strings.TrimSpace(email); email != "" {
		existing.Email = email
	}
	if class = strings.TrimSpace(class); class != "" {
		existing.Class = class
	}
	if phone = strings.TrimSpace(phone); phone != "" {
		existing.Phone = phone
	}
	return d.store.Update(ctx, existing)
}

// Delete removes a student. Refused with ReferentialConflict while any
// attendance record still references the student; those must be removed
// first via the ledger.
func (d *Directory) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	if !actor.Role.Privileged() {
		return apperr.New(apperr.KindUnauthorized, "user not authorized to delete students")
	}
	if _, err := d.store.Get(ctx, id); err != nil {
		return err
	}
	referenced, err := d.records.HasRecords(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return apperr.New(apperr.KindReferentialConflict, "cannot delete student with existing attendance records")
	}
	return d.store.Delete(ctx, id)
}

// Login verifies a student by id and email. Students have no password;
// the email doubles as the credential.
func (d *Directory) Login(ctx context.Context, id int64, email string) (Student, error) {
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return Student{}, apperr.New(apperr.KindInvalidInput, "email must be a valid email address")
	}
	s, err := d.store.Get(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if s.Email != email {
		return Student{}, apperr.New(apperr.KindUnauthorized, "invalid email address")
	}
	return s, nil
}
