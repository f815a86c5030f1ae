package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"classtrack/internal/apperr"
	"classtrack/internal/auth"
	"classtrack/internal/geo"
)

// TimeLayout is the wall-clock format used for expiry timestamps on the
// wire and in check-in tokens.
const TimeLayout = "2006-01-02 15:04:05"

// State is the derived lifecycle position of a session.
type State string

const (
	StateActive    State = "ACTIVE"
	StateExpired   State = "EXPIRED"
	StateFinalized State = "FINALIZED"
)

// Session is a time-boxed attendance-taking event. Code and Expiry are
// immutable once the session is created; sessions are never updated.
type Session struct {
	ID        int64      `json:"id"`
	Name      string     `json:"session_name"`
	Code      string     `json:"session_code"`
	Expiry    time.Time  `json:"expiry_time"`
	CreatedBy int64      `json:"created_by"`
	Class     string     `json:"class"`
	Geofence  *geo.Point `json:"geofence,omitempty"`
	RadiusKm  *float64   `json:"radius_km,omitempty"`
	Finalized bool       `json:"finalized"`
}

// State derives the lifecycle position from wall-clock time and the
// persisted finalized flag. There is no transition out of FINALIZED.
func (s Session) State(now time.Time) State {
	if s.Finalized {
		return StateFinalized
	}
	if now.After(s.Expiry) {
		return StateExpired
	}
	return StateActive
}

// Radius returns the geofence radius for this session, falling back to
// the configured default when the session does not override it.
func (s Session) Radius(defaultKm float64) float64 {
	if s.RadiusKm != nil && *s.RadiusKm > 0 {
		return *s.RadiusKm
	}
	return defaultKm
}

// Store persists sessions.
type Store interface {
	Insert(ctx context.Context, s Session) (int64, error)
	Get(ctx context.Context, id int64) (Session, error)
	List(ctx context.Context) ([]Session, error)
	Delete(ctx context.Context, id int64) error
}

// Registry owns session records and token issuance.
type Registry struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewRegistry creates a registry backed by a store.
func NewRegistry(store Store, log zerolog.Logger) *Registry {
	return &Registry{store: store, log: log, now: time.Now}
}

// Create registers a new session. The caller must hold a privileged
// role. Expiry is accepted as a wall-clock string; past expiries are
// permitted. The session code is unique even when two sessions are
// created within the same second.
func (r *Registry) Create(ctx context.Context, actor auth.Actor, name, expiryStr, class string, fence *geo.Point, radiusKm *float64) (Session, error) {
	if !actor.Role.Privileged() {
		return Session{}, apperr.New(apperr.KindUnauthorized, "user not authorized to create sessions")
	}
	if name == "" || class == "" {
		return Session{}, apperr.New(apperr.KindInvalidInput, "session_name and class are required")
	}
	expiry, err := time.ParseInLocation(TimeLayout, expiryStr, time.Local)
	if err != nil {
		return Session{}, apperr.New(apperr.KindInvalidInput, "invalid expiry_time format, expected YYYY-MM-DD HH:MM:SS")
	}
	if fence != nil {
		if err := fence.Validate(); err != nil {
			return Session{}, err
		}
	}
	if radiusKm != nil && *radiusKm <= 0 {
		return Session{}, apperr.New(apperr.KindInvalidInput, "radius_km must be positive")
	}

	s := Session{
		Name:      name,
		Code:      newCode(r.now()),
		Expiry:    expiry,
		CreatedBy: actor.ID,
		Class:     class,
		Geofence:  fence,
		RadiusKm:  radiusKm,
	}
	id, err := r.store.Insert(ctx, s)
	if err != nil {
		return Session{}, err
	}
	s.ID = id
	return s, nil
}

// Get returns a session by id.
func (r *Registry) Get(ctx context.Context, id int64) (Session, error) {
	return r.store.Get(ctx, id)
}

// List returns all sessions for a privileged caller.
func (r *Registry) List(ctx context.Context, actor auth.Actor) ([]Session, error) {
	if !actor.Role.Privileged() {
		return nil, apperr.New(apperr.KindUnauthorized, "user not authorized to view sessions")
	}
	return r.store.List(ctx)
}

// IssueToken builds the check-in token for a session. Only the session's
// creator or an admin may request it; a teacher who did not create the
// session is refused. Expired sessions still issue a token — check-in
// will reject the late attempt on its own.
func (r *Registry) IssueToken(ctx context.Context, actor auth.Actor, sessionID int64) (CheckinToken, error) {
	s, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return CheckinToken{}, err
	}
	if actor.ID != s.CreatedBy && actor.Role != auth.RoleAdmin {
		return CheckinToken{}, apperr.New(apperr.KindUnauthorized, "not authorized to issue token for this session")
	}
	if r.now().After(s.Expiry) {
		r.log.Info().Int64("session_id", sessionID).Msg("issuing token for expired session")
	}
	return CheckinToken{
		SessionID:   s.ID,
		SessionCode: s.Code,
		ExpiryTime:  s.Expiry.Format(TimeLayout),
	}, nil
}

// Delete removes a session. Attendance rows for the session are managed
// by the ledger's own delete operation; this call does not consult them.
func (r *Registry) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	if !actor.Role.Privileged() {
		return apperr.New(apperr.KindUnauthorized, "user not authorized to delete sessions")
	}
	if _, err := r.store.Get(ctx, id); err != nil {
		return err
	}
	return r.store.Delete(ctx, id)
}

// newCode derives a unique session code from the creation timestamp plus
// a random suffix, so concurrent creations in the same second never
// collide.
func newCode(now time.Time) string {
	return fmt.Sprintf("SESSION_%d_%s", now.Unix(), uuid.NewString()[:8])
}
