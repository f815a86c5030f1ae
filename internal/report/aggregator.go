package report

import (
	"context"
	"time"

	"classtrack/internal/apperr"
	"classtrack/internal/attendance"
	"classtrack/internal/auth"
	"classtrack/internal/session"
	"classtrack/internal/student"
)

// LedgerReader is the read-only slice of the attendance ledger.
type LedgerReader interface {
	StudentReport(ctx context.Context, studentID int64) (attendance.StudentReport, error)
	SessionRecords(ctx context.Context, sessionID int64) (session.Session, []attendance.SessionRecord, error)
}

// SessionLister lists sessions for a privileged caller.
type SessionLister interface {
	List(ctx context.Context, actor auth.Actor) ([]session.Session, error)
}

// RosterReader lists students by class.
type RosterReader interface {
	ListByClass(ctx context.Context, actor auth.Actor, class string) ([]student.Student, error)
}

// NameLookup resolves user identities to accounts, for creator names.
type NameLookup interface {
	ByID(ctx context.Context, id int64) (auth.User, error)
}

// Aggregator derives summaries from the ledger, registry and roster. It
// holds no state of its own.
type Aggregator struct {
	ledger   LedgerReader
	sessions SessionLister
	roster   RosterReader
	users    NameLookup
}

// New creates an aggregator.
func New(ledger LedgerReader, sessions SessionLister, roster RosterReader, users NameLookup) *Aggregator {
	return &Aggregator{ledger: ledger, sessions: sessions, roster: roster, users: users}
}

// SessionSummary is a session enriched with its creator's name and
// derived lifecycle state.
type SessionSummary struct {
	session.Session
	CreatedByName string        `json:"created_by_name"`
	State         session.State `json:"state"`
}

// SessionRoster is the per-session attendance view.
type SessionRoster struct {
	SessionName string                     `json:"session_name"`
	Records     []attendance.SessionRecord `json:"attendance_records"`
	RecordCount int                        `json:"record_count"`
}

// StudentHistory returns a student's attendance history and percentage.
func (a *Aggregator) StudentHistory(ctx context.Context, studentID int64) (attendance.StudentReport, error) {
	return a.ledger.StudentReport(ctx, studentID)
}

// ForSession returns the roster of recorded outcomes for a session with
// student names. Privileged callers only.
func (a *Aggregator) ForSession(ctx context.Context, actor auth.Actor, sessionID int64) (SessionRoster, error) {
	if !actor.Role.Privileged() {
		return SessionRoster{}, apperr.New(apperr.KindUnauthorized, "user not authorized to view attendance")
	}
	s, records, err := a.ledger.SessionRecords(ctx, sessionID)
	if err != nil {
		return SessionRoster{}, err
	}
	return SessionRoster{SessionName: s.Name, Records: records, RecordCount: len(records)}, nil
}

// ForClass returns the enrolled students of a class.
func (a *Aggregator) ForClass(ctx context.Context, actor auth.Actor, class string) ([]student.Student, error) {
	return a.roster.ListByClass(ctx, actor, class)
}

// Sessions lists all sessions with creator names and derived state.
func (a *Aggregator) Sessions(ctx context.Context, actor auth.Actor, now time.Time) ([]SessionSummary, error) {
	sessions, err := a.sessions.List(ctx, actor)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "no sessions found")
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		name := "Unknown"
		if u, err := a.users.ByID(ctx, s.CreatedBy); err == nil {
			name = u.Name
		} else if !apperr.NotFound(err) {
			return nil, err
		}
		out = append(out, SessionSummary{Session: s, CreatedByName: name, State: s.State(now)})
	}
	return out, nil
}
