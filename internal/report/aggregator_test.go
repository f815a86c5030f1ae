package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/apperr"
	"classtrack/internal/attendance"
	"classtrack/internal/auth"
	"classtrack/internal/session"
	"classtrack/internal/student"
)

type fakeLedger struct {
	report   attendance.StudentReport
	session  session.Session
	records  []attendance.SessionRecord
	recordsErr error
}

func (f *fakeLedger) StudentReport(context.Context, int64) (attendance.StudentReport, error) {
	return f.report, nil
}

func (f *fakeLedger) SessionRecords(context.Context, int64) (session.Session, []attendance.SessionRecord, error) {
	if f.recordsErr != nil {
		return session.Session{}, nil, f.recordsErr
	}
	return f.session, f.records, nil
}

type fakeSessions struct {
	sessions []session.Session
}

func (f *fakeSessions) List(_ context.Context, actor auth.Actor) ([]session.Session, error) {
	if !actor.Role.Privileged() {
		return nil, apperr.New(apperr.KindUnauthorized, "user not authorized to view sessions")
	}
	return f.sessions, nil
}

type fakeRoster struct {
	students []student.Student
}

func (f *fakeRoster) ListByClass(context.Context, auth.Actor, string) ([]student.Student, error) {
	return f.students, nil
}

type fakeUsers struct {
	users map[int64]auth.User
}

func (f *fakeUsers) ByID(_ context.Context, id int64) (auth.User, error) {
	u, ok := f.users[id]
	if !ok {
		return auth.User{}, apperr.New(apperr.KindNotFound, "user %d not found", id)
	}
	return u, nil
}

var (
	teacher = auth.Actor{ID: 1, Role: auth.RoleTeacher}
	nobody  = auth.Actor{ID: 2, Role: auth.RoleNone}
)

func TestForSessionRequiresPrivilege(t *testing.T) {
	a := New(&fakeLedger{}, &fakeSessions{}, &fakeRoster{}, &fakeUsers{})
	_, err := a.ForSession(context.Background(), nobody, 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestForSessionRoster(t *testing.T) {
	ledger := &fakeLedger{
		session: session.Session{ID: 1, Name: "Math"},
		records: []attendance.SessionRecord{
			{StudentID: 100, StudentName: "Asha", Status: attendance.StatusPresent},
			{StudentID: 101, StudentName: "Ravi", Status: attendance.StatusAbsent},
		},
	}
	a := New(ledger, &fakeSessions{}, &fakeRoster{}, &fakeUsers{})

	roster, err := a.ForSession(context.Background(), teacher, 1)
	require.NoError(t, err)
	assert.Equal(t, "Math", roster.SessionName)
	assert.Equal(t, 2, roster.RecordCount)
}

func TestForSessionPropagatesLedgerError(t *testing.T) {
	ledger := &fakeLedger{recordsErr: apperr.New(apperr.KindNotFound, "no attendance records found for this session")}
	a := New(ledger, &fakeSessions{}, &fakeRoster{}, &fakeUsers{})

	_, err := a.ForSession(context.Background(), teacher, 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSessionsEnrichment(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sessions := &fakeSessions{sessions: []session.Session{
		{ID: 1, Name: "Math", CreatedBy: 1, Expiry: now.Add(time.Hour)},
		{ID: 2, Name: "Physics", CreatedBy: 42, Expiry: now.Add(-time.Hour)},
	}}
	users := &fakeUsers{users: map[int64]auth.User{1: {ID: 1, Name: "Mr. Rao"}}}
	a := New(&fakeLedger{}, sessions, &fakeRoster{}, users)

	out, err := a.Sessions(context.Background(), teacher, now)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Mr. Rao", out[0].CreatedByName)
	assert.Equal(t, session.StateActive, out[0].State)
	// Unknown creator falls back instead of failing the listing.
	assert.Equal(t, "Unknown", out[1].CreatedByName)
	assert.Equal(t, session.StateExpired, out[1].State)
}

func TestSessionsEmpty(t *testing.T) {
	a := New(&fakeLedger{}, &fakeSessions{}, &fakeRoster{}, &fakeUsers{})
	_, err := a.Sessions(context.Background(), teacher, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStudentHistoryPassThrough(t *testing.T) {
	ledger := &fakeLedger{report: attendance.StudentReport{PresentCount: 3, AbsentCount: 1, TotalSessions: 4, Percentage: 75}}
	a := New(ledger, &fakeSessions{}, &fakeRoster{}, &fakeUsers{})

	rep, err := a.StudentHistory(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 75.0, rep.Percentage)
}
