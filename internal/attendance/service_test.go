package attendance

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/apperr"
	"classtrack/internal/geo"
	"classtrack/internal/session"
)

// memStore is an in-memory Store with the same uniqueness semantics as
// the Postgres composite key.
type memStore struct {
	mu      sync.Mutex
	records map[[2]int64]Record
	// roster maps class -> enrolled student ids; names for enrichment.
	roster map[string][]int64
	names  map[int64]string
}

func newMemStore() *memStore {
	return &memStore{
		records: map[[2]int64]Record{},
		roster:  map[string][]int64{},
		names:   map[int64]string{},
	}
}

func (m *memStore) Insert(_ context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{rec.StudentID, rec.SessionID}
	if _, exists := m.records[key]; exists {
		return false, nil
	}
	m.records[key] = rec
	return true, nil
}

func (m *memStore) FinalizeMissing(_ context.Context, sessionID int64, class string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var absent int64
	for _, studentID := range m.roster[class] {
		key := [2]int64{studentID, sessionID}
		if _, exists := m.records[key]; exists {
			continue
		}
		m.records[key] = Record{StudentID: studentID, SessionID: sessionID, Status: StatusAbsent, MarkedAt: now}
		absent++
	}
	return absent, nil
}

func (m *memStore) ForStudent(_ context.Context, studentID int64) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if rec.StudentID == studentID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarkedAt.After(out[j].MarkedAt) })
	return out, nil
}

func (m *memStore) ForSession(_ context.Context, sessionID int64) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SessionRecord
	for _, rec := range m.records {
		if rec.SessionID != sessionID {
			continue
		}
		name := m.names[rec.StudentID]
		if name == "" {
			name = "Unknown"
		}
		out = append(out, SessionRecord{
			StudentID: rec.StudentID, StudentName: name, Status: rec.Status, MarkedAt: rec.MarkedAt,
		})
	}
	return out, nil
}

func (m *memStore) DeleteByStudent(_ context.Context, studentID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, rec := range m.records {
		if rec.StudentID == studentID {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteBySession(_ context.Context, sessionID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, rec := range m.records {
		if rec.SessionID == sessionID {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}

type fakeSessions struct {
	sessions map[int64]session.Session
}

func (f *fakeSessions) Get(_ context.Context, id int64) (session.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return session.Session{}, apperr.New(apperr.KindNotFound, "session %d not found", id)
	}
	return s, nil
}

var (
	campus  = geo.Point{Lat: 20.2961, Lng: 85.8245}
	nearby  = geo.Point{Lat: 20.2961 + 0.00045, Lng: 85.8245} // ~50 m north
	faraway = geo.Point{Lat: 20.2961 + 0.0045, Lng: 85.8245}  // ~500 m north
)

func newTestLedger(t *testing.T, sessions ...session.Session) (*Ledger, *memStore) {
	t.Helper()
	store := newMemStore()
	resolver := &fakeSessions{sessions: map[int64]session.Session{}}
	for _, s := range sessions {
		resolver.sessions[s.ID] = s
	}
	return NewLedger(store, resolver, geo.DefaultRadiusKm, zerolog.Nop()), store
}

func geofenced(id int64, class string, expiry time.Time) session.Session {
	fence := campus
	return session.Session{ID: id, Name: "Math", Class: class, Expiry: expiry, Geofence: &fence}
}

func TestMarkWithinFenceIsPresent(t *testing.T) {
	now := time.Now()
	l, _ := newTestLedger(t, geofenced(1, "CS-1", now.Add(time.Hour)))

	out, err := l.Mark(context.Background(), 100, 1, nearby, now)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, out.Record.Status)
	assert.Equal(t, ReasonInRange, out.Reason)
}

func TestMarkOutsideFenceIsAbsent(t *testing.T) {
	now := time.Now()
	l, _ := newTestLedger(t, geofenced(1, "CS-1", now.Add(time.Hour)))

	out, err := l.Mark(context.Background(), 100, 1, faraway, now)
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, out.Record.Status)
	assert.Equal(t, ReasonLocationMismatch, out.Reason)
}

func TestMarkNoGeofenceIsPresent(t *testing.T) {
	now := time.Now()
	l, _ := newTestLedger(t, session.Session{ID: 1, Class: "CS-1", Expiry: now.Add(time.Hour)})

	// Any location at all is accepted when no fence is configured.
	out, err := l.Mark(context.Background(), 100, 1, faraway, now)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, out.Record.Status)
	assert.Equal(t, ReasonLocationExempt, out.Reason)
}

func TestMarkAfterExpiryRecordsAbsent(t *testing.T) {
	expiry := time.Now()
	l, store := newTestLedger(t, geofenced(1, "CS-1", expiry))

	// One second late, matching location: ABSENT, not rejected.
	out, err := l.Mark(context.Background(), 100, 1, nearby, expiry.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, out.Record.Status)
	assert.Equal(t, ReasonLate, out.Reason)

	// The late attempt consumed the slot.
	assert.Len(t, store.records, 1)
	_, err = l.Mark(context.Background(), 100, 1, nearby, expiry.Add(2*time.Second))
	require.Error(t, err)
	assert.Equal(t, apperr.KindAlreadyMarked, apperr.KindOf(err))
}

func TestMarkDuplicateFailsAlreadyMarked(t *testing.T) {
	now := time.Now()
	l, store := newTestLedger(t, geofenced(1, "CS-1", now.Add(time.Hour)))

	first, err := l.Mark(context.Background(), 100, 1, nearby, now)
	require.NoError(t, err)

	// Any second attempt for the pair fails, whatever the arguments.
	_, err = l.Mark(context.Background(), 100, 1, faraway, now.Add(time.Minute))
	require.Error(t, err)
	assert.Equal(t, apperr.KindAlreadyMarked, apperr.KindOf(err))

	// The original record was not overwritten.
	assert.Equal(t, first.Record, store.records[[2]int64{100, 1}])
}

func TestMarkUnknownSession(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Mark(context.Background(), 100, 9, nearby, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestMarkMalformedLocation(t *testing.T) {
	now := time.Now()
	l, _ := newTestLedger(t, geofenced(1, "CS-1", now.Add(time.Hour)))
	_, err := l.Mark(context.Background(), 100, 1, geo.Point{Lat: 91, Lng: 0}, now)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidCoordinate, apperr.KindOf(err))
}

func TestMarkRespectsRadiusOverride(t *testing.T) {
	now := time.Now()
	s := geofenced(1, "CS-1", now.Add(time.Hour))
	wide := 1.0 // km
	s.RadiusKm = &wide
	l, _ := newTestLedger(t, s)

	// 500 m away is outside the default fence but inside the override.
	out, err := l.Mark(context.Background(), 100, 1, faraway, now)
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, out.Record.Status)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	now := time.Now()
	l, store := newTestLedger(t, geofenced(1, "CS-1", now))
	store.roster["CS-1"] = []int64{100, 101, 102}

	// One student checked in before expiry.
	_, err := l.Mark(context.Background(), 100, 1, nearby, now.Add(-time.Minute))
	require.NoError(t, err)

	absent, err := l.Finalize(context.Background(), 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, absent)

	// Second run finds an empty missing set.
	absent, err = l.Finalize(context.Background(), 1, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 0, absent)

	// Total records equal the roster size.
	assert.Len(t, store.records, 3)
}

func TestFinalizeUnknownSession(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Finalize(context.Background(), 9, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStudentReport(t *testing.T) {
	now := time.Now()
	l, _ := newTestLedger(t,
		geofenced(1, "CS-1", now.Add(time.Hour)),
		geofenced(2, "CS-1", now.Add(time.Hour)),
		geofenced(3, "CS-1", now.Add(time.Hour)),
	)

	_, err := l.Mark(context.Background(), 100, 1, nearby, now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = l.Mark(context.Background(), 100, 2, faraway, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = l.Mark(context.Background(), 100, 3, nearby, now)
	require.NoError(t, err)

	rep, err := l.StudentReport(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.PresentCount)
	assert.Equal(t, 1, rep.AbsentCount)
	assert.Equal(t, 3, rep.TotalSessions)
	assert.InDelta(t, 66.67, rep.Percentage, 0.01)

	// Newest first.
	require.Len(t, rep.Records, 3)
	assert.EqualValues(t, 3, rep.Records[0].SessionID)
	assert.EqualValues(t, 1, rep.Records[2].SessionID)
}

func TestStudentReportNoRecords(t *testing.T) {
	l, _ := newTestLedger(t)
	rep, err := l.StudentReport(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, rep.Percentage)
	assert.Zero(t, rep.TotalSessions)
	assert.Empty(t, rep.Records)
}

func TestSessionRecordsDistinguishesEmptyFromMissing(t *testing.T) {
	now := time.Now()
	l, store := newTestLedger(t, geofenced(1, "CS-1", now.Add(time.Hour)))
	store.names[100] = "Asha"

	// Session exists but has no records: a not-found class result, not a
	// hard error, and distinct from an unknown session.
	_, _, err := l.SessionRecords(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "no attendance records")

	_, _, err = l.SessionRecords(context.Background(), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session 9 not found")

	_, err = l.Mark(context.Background(), 100, 1, nearby, now)
	require.NoError(t, err)
	s, records, err := l.SessionRecords(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Math", s.Name)
	require.Len(t, records, 1)
	assert.Equal(t, "Asha", records[0].StudentName)
}

func TestDeleteByStudent(t *testing.T) {
	now := time.Now()
	l, _ := newTestLedger(t, geofenced(1, "CS-1", now.Add(time.Hour)))

	err := l.DeleteByStudent(context.Background(), 100)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = l.Mark(context.Background(), 100, 1, nearby, now)
	require.NoError(t, err)
	require.NoError(t, l.DeleteByStudent(context.Background(), 100))
}

func TestDeleteBySession(t *testing.T) {
	now := time.Now()
	l, _ := newTestLedger(t, geofenced(1, "CS-1", now.Add(time.Hour)))

	err := l.DeleteBySession(context.Background(), 9)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	err = l.DeleteBySession(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = l.Mark(context.Background(), 100, 1, nearby, now)
	require.NoError(t, err)
	require.NoError(t, l.DeleteBySession(context.Background(), 1))
}

func TestConcurrentMarkSinglePair(t *testing.T) {
	now := time.Now()
	l, store := newTestLedger(t, geofenced(1, "CS-1", now.Add(time.Hour)))

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Mark(context.Background(), 100, 1, nearby, now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		if err == nil {
			ok++
		} else if apperr.KindOf(err) == apperr.KindAlreadyMarked {
			dup++
		}
	}
	assert.Equal(t, 1, ok, "exactly one attempt wins the slot")
	assert.Equal(t, attempts-1, dup)
	assert.Len(t, store.records, 1)
}
