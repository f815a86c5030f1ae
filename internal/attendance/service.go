package attendance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"classtrack/internal/apperr"
	"classtrack/internal/geo"
	"classtrack/internal/session"
)

// Status is the recorded attendance outcome.
type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusAbsent  Status = "ABSENT"
)

// Reason tags which branch decided the outcome so callers can render a
// precise message.
type Reason string

const (
	// ReasonInRange: checked in before expiry, inside the geofence.
	ReasonInRange Reason = "in_range"
	// ReasonLocationExempt: the session has no geofence configured.
	ReasonLocationExempt Reason = "location_exempt"
	// ReasonLocationMismatch: checked in on time but outside the fence.
	ReasonLocationMismatch Reason = "location_mismatch"
	// ReasonLate: checked in after expiry; the attempt still consumes
	// the student's unique slot for the session.
	ReasonLate Reason = "late"
	// ReasonFinalized: synthesized at finalization for non-responders.
	ReasonFinalized Reason = "finalized"
)

// Record is one attendance decision. At most one exists per
// (student, session), enforced by the storage layer.
type Record struct {
	StudentID int64     `json:"student_id"`
	SessionID int64     `json:"session_id"`
	Status    Status    `json:"status"`
	MarkedAt  time.Time `json:"timestamp"`
}

// Outcome reports the committed record plus the branch that produced it.
type Outcome struct {
	Record Record `json:"record"`
	Reason Reason `json:"reason"`
}

// SessionRecord is a ledger row enriched with the student's name.
type SessionRecord struct {
	StudentID   int64     `json:"student_id"`
	StudentName string    `json:"student_name"`
	Status      Status    `json:"status"`
	MarkedAt    time.Time `json:"timestamp"`
}

// StudentReport is the per-student history with derived counts.
type StudentReport struct {
	Records       []Record `json:"records"`
	PresentCount  int      `json:"present_count"`
	AbsentCount   int      `json:"absent_count"`
	TotalSessions int      `json:"total_session"`
	Percentage    float64  `json:"attendance_percentage"`
}

// Store persists attendance records. Insert must be atomic with the
// per-pair uniqueness check; FinalizeMissing must be race-safe against
// concurrent inserts for the same student.
type Store interface {
	Insert(ctx context.Context, rec Record) (bool, error)
	FinalizeMissing(ctx context.Context, sessionID int64, class string, now time.Time) (int64, error)
	ForStudent(ctx context.Context, studentID int64) ([]Record, error)
	ForSession(ctx context.Context, sessionID int64) ([]SessionRecord, error)
	DeleteByStudent(ctx context.Context, studentID int64) (int64, error)
	DeleteBySession(ctx context.Context, sessionID int64) (int64, error)
}

// SessionResolver is the slice of the registry the ledger needs.
type SessionResolver interface {
	Get(ctx context.Context, id int64) (session.Session, error)
}

// Ledger owns attendance records and the check-in decision rules.
type Ledger struct {
	store           Store
	sessions        SessionResolver
	defaultRadiusKm float64
	log             zerolog.Logger
}

// NewLedger creates a ledger.
func NewLedger(store Store, sessions SessionResolver, defaultRadiusKm float64, log zerolog.Logger) *Ledger {
	if defaultRadiusKm <= 0 {
		defaultRadiusKm = geo.DefaultRadiusKm
	}
	return &Ledger{store: store, sessions: sessions, defaultRadiusKm: defaultRadiusKm, log: log}
}

// Mark commits exactly one attendance outcome for (studentID, sessionID).
// Late check-ins record ABSENT rather than being rejected; a session
// without a geofence treats any location as PRESENT. A second attempt
// for the same pair fails with AlreadyMarked and never overwrites.
func (l *Ledger) Mark(ctx context.Context, studentID, sessionID int64, loc geo.Point, now time.Time) (Outcome, error) {
	s, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}

	var status Status
	var reason Reason
	switch {
	case now.After(s.Expiry):
		status, reason = StatusAbsent, ReasonLate
	case s.Geofence == nil:
		status, reason = StatusPresent, ReasonLocationExempt
	default:
		within, err := geo.WithinRadius(*s.Geofence, loc, s.Radius(l.defaultRadiusKm))
		if err != nil {
			return Outcome{}, err
		}
		if within {
			status, reason = StatusPresent, ReasonInRange
		} else {
			status, reason = StatusAbsent, ReasonLocationMismatch
		}
	}

	rec := Record{StudentID: studentID, SessionID: sessionID, Status: status, MarkedAt: now}
	inserted, err := l.store.Insert(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}
	if !inserted {
		return Outcome{}, apperr.New(apperr.KindAlreadyMarked, "attendance already marked for this session")
	}

	l.log.Info().
		Int64("student_id", studentID).
		Int64("session_id", sessionID).
		Str("status", string(status)).
		Str("reason", string(reason)).
		Msg("attendance marked")
	return Outcome{Record: rec, Reason: reason}, nil
}

// Finalize inserts ABSENT records for every enrolled student of the
// session's class lacking a record, timestamped now. Idempotent: a
// second call finds an empty missing set and reports zero.
func (l *Ledger) Finalize(ctx context.Context, sessionID int64, now time.Time) (int64, error) {
	s, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	absent, err := l.store.FinalizeMissing(ctx, s.ID, s.Class, now)
	if err != nil {
		return 0, err
	}
	l.log.Info().
		Int64("session_id", sessionID).
		Int64("absent_count", absent).
		Msg("session finalized")
	return absent, nil
}

// StudentReport returns the student's history newest first with derived
// counts. Zero records yields a 0.0 percentage, not an error.
func (l *Ledger) StudentReport(ctx context.Context, studentID int64) (StudentReport, error) {
	records, err := l.store.ForStudent(ctx, studentID)
	if err != nil {
		return StudentReport{}, err
	}
	rep := StudentReport{Records: records}
	for _, r := range records {
		switch r.Status {
		case StatusPresent:
			rep.PresentCount++
		case StatusAbsent:
			rep.AbsentCount++
		}
	}
	rep.TotalSessions = rep.PresentCount + rep.AbsentCount
	if rep.TotalSessions > 0 {
		rep.Percentage = float64(rep.PresentCount) / float64(rep.TotalSessions) * 100
	}
	return rep, nil
}

// SessionRecords returns the ledger rows for a session enriched with
// student names. A session with no records is a distinct not-found
// result from a session that does not exist.
func (l *Ledger) SessionRecords(ctx context.Context, sessionID int64) (session.Session, []SessionRecord, error) {
	s, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, nil, err
	}
	records, err := l.store.ForSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, nil, err
	}
	if len(records) == 0 {
		return session.Session{}, nil, apperr.New(apperr.KindNotFound, "no attendance records found for this session")
	}
	return s, records, nil
}

// DeleteByStudent removes all records for a student. Zero affected rows
// reports NotFound so callers can distinguish "nothing to delete".
func (l *Ledger) DeleteByStudent(ctx context.Context, studentID int64) error {
	n, err := l.store.DeleteByStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "no attendance records found for this student")
	}
	return nil
}

// DeleteBySession removes all records for a session.
func (l *Ledger) DeleteBySession(ctx context.Context, sessionID int64) error {
	if _, err := l.sessions.Get(ctx, sessionID); err != nil {
		return err
	}
	n, err := l.store.DeleteBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "no attendance records found for this session")
	}
	return nil
}
