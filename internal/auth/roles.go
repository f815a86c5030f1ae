package auth

import "context"

// Role is the authorization level of a user.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	// RoleNone means the identity resolved to no privileged role.
	RoleNone Role = ""
)

// Privileged reports whether the role may manage students, sessions and
// attendance records.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleTeacher
}

// Actor is a resolved caller identity. It is built once per request and
// passed explicitly to every operation that needs an authorization
// decision, instead of each operation re-fetching the role.
type Actor struct {
	ID   int64
	Role Role
}

// Oracle resolves an identity to its role. Implemented by the user
// service; unknown identities resolve to RoleNone, not an error.
type Oracle interface {
	RoleOf(ctx context.Context, userID int64) (Role, error)
}

// Resolve builds an Actor from an identity using the oracle.
func Resolve(ctx context.Context, o Oracle, userID int64) (Actor, error) {
	role, err := o.RoleOf(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: userID, Role: role}, nil
}
