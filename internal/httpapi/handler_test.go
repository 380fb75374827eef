package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyhall/internal/attendance"
	"studyhall/internal/auth"
	"studyhall/internal/httpmiddleware"
	"studyhall/internal/logger"
	"studyhall/internal/session"
	"studyhall/internal/store"
)

var taipei = time.FixedZone("CST", 8*3600)

const adminBadge = "9999"

type eventCounts struct {
	counts map[attendance.Action]int64
	err    error
	days   []attendance.Day
}

func (e *eventCounts) Tally(_ context.Context, day attendance.Day) (map[attendance.Action]int64, error) {
	e.days = append(e.days, day)
	return e.counts, e.err
}

type fixture struct {
	router  *gin.Engine
	handler *Handler
	clock   *clockwork.FakeClock
	session *session.Session
	mem     *store.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fc := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 18, 5, 0, 0, taipei))
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertStudents(context.Background(), []attendance.Student{
		{ID: "s1", Name: "Wang", Seat: 1, Credential: "0001"},
		{ID: "s2", Name: "Chen", Seat: 2, Credential: "0002"},
	}))

	sess := session.New(fc, time.Minute, nil)
	t.Cleanup(sess.Close)
	authz := auth.SessionAuthorizer{Session: sess, Key: "k", Issuer: "test", Clock: fc}
	ledger := attendance.NewLedger(attendance.Deps{
		Store:    mem,
		Locker:   store.NewKeyedMutex(),
		Auth:     authz,
		Calendar: attendance.NewCalendar(taipei, attendance.DefaultCutoff),
		Log:      logger.Discard(),
	})
	h := &Handler{
		Ledger:          ledger,
		Session:         sess,
		Authorizer:      authz,
		AdminCredential: adminBadge,
		SigningKey:      "k",
		Issuer:          "test",
		TokenTTL:        time.Hour,
		Clock:           fc,
		Health:          map[string]HealthCheck{"store": func(context.Context) bool { return true }},
		Log:             logger.Discard(),
	}
	limiter := httpmiddleware.NewSimpleTokenBucket(100, 100, fc)
	return &fixture{router: NewRouter(h, limiter), handler: h, clock: fc, session: sess, mem: mem}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) openAdmin(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/admin/session", "", gin.H{"credential": adminBadge})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Token   string        `json:"token"`
		Session session.State `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Session.Active)
	assert.Equal(t, 60, out.Session.Remaining)
	return out.Token
}

func TestCheckInAndSnapshot(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/check-in", "", gin.H{"rfid_tag": "0001", "time_scanned": time.Now()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res attendance.ScanResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, attendance.StatusPresent, res.Status)
	assert.Equal(t, attendance.ActionEntry, res.Action)

	w = f.do(t, http.MethodGet, "/api/seats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap struct {
		Day   string               `json:"day"`
		Seats []attendance.SeatRow `json:"seats"`
		Tally attendance.Tally     `json:"tally"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "20261019", snap.Day)
	require.Len(t, snap.Seats, 2)
	assert.Equal(t, attendance.StatusPresent, snap.Seats[0].Status)
	assert.Equal(t, attendance.StatusExpected, snap.Seats[1].Status)
	assert.Equal(t, attendance.Tally{Expected: 2, Present: 1, Absent: 1}, snap.Tally)
}

func TestCheckInServerClockDecidesLateness(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(5 * time.Minute)

	early := time.Date(2026, 10, 19, 17, 0, 0, 0, taipei)
	w := f.do(t, http.MethodPost, "/api/check-in", "", gin.H{"rfid_tag": "0002", "time_scanned": early})
	require.Equal(t, http.StatusOK, w.Code)
	var res attendance.ScanResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, attendance.StatusLate, res.Status)
}

func TestCheckInErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/check-in", "", gin.H{"rfid_tag": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/check-in", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/seats?day=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/admin/correct", "", gin.H{"student_id": "s1", "fix_type": "leave"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "no token")

	w = f.do(t, http.MethodPost, "/api/admin/session", "", gin.H{"credential": "0001"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "student badge cannot open the session")

	token := f.openAdmin(t)

	w = f.do(t, http.MethodPost, "/api/admin/correct", token, gin.H{"student_id": "s2", "fix_type": "leave"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var c attendance.Correction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, attendance.StatusLeaveApproved, c.Status)
	assert.Equal(t, attendance.ActionAdminLeave, c.Action)

	w = f.do(t, http.MethodPost, "/api/admin/correct", token, gin.H{"student_id": "s2", "fix_type": "nap"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPost, "/api/admin/correct", token, gin.H{"student_id": "ghost", "fix_type": "leave"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/admin/session", "", nil)
	var st session.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Active)

	w = f.do(t, http.MethodDelete, "/api/admin/session", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, f.session.Active())

	w = f.do(t, http.MethodPost, "/api/admin/correct", token, gin.H{"student_id": "s1", "fix_type": "force_absent"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "token outlives its session")
}

func TestAdminTokenExpiryFollowsServerClock(t *testing.T) {
	f := newFixture(t)
	f.handler.TokenTTL = 30 * time.Second
	token := f.openAdmin(t)

	f.clock.Advance(20 * time.Second)
	w := f.do(t, http.MethodPost, "/api/admin/correct", token, gin.H{"student_id": "s1", "fix_type": "leave"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	f.clock.Advance(20 * time.Second)
	require.True(t, f.session.Active(), "the correction reset the countdown")
	w = f.do(t, http.MethodPost, "/api/admin/correct", token, gin.H{"student_id": "s1", "fix_type": "force_present"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "token expired on the server clock")
	assert.Contains(t, w.Body.String(), "invalid token")
}

func TestStatsIncludeEventCounters(t *testing.T) {
	f := newFixture(t)
	events := &eventCounts{counts: map[attendance.Action]int64{attendance.ActionEntry: 3, attendance.ActionLeaveTemp: 1}}
	f.handler.Events = events
	f.do(t, http.MethodPost, "/api/check-in", "", gin.H{"rfid_tag": "0001"})

	w := f.do(t, http.MethodGet, "/api/stats?day=20261019", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		attendance.Tally
		Events map[attendance.Action]int64 `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, attendance.Tally{Expected: 2, Present: 1, Absent: 1}, out.Tally)
	assert.Equal(t, int64(3), out.Events[attendance.ActionEntry])
	assert.Equal(t, []attendance.Day{"20261019"}, events.days)

	// Counters are optional; a Redis outage still serves the tally.
	events.err = attendance.ErrTransportUnavailable
	w = f.do(t, http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "events")
}

func TestStatsAndLogs(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/check-in", "", gin.H{"rfid_tag": "0001"})
	f.do(t, http.MethodPost, "/api/check-in", "", gin.H{"rfid_tag": "0001"})

	w := f.do(t, http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tally attendance.Tally
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tally))
	assert.Equal(t, attendance.Tally{Expected: 2, Out: 1, Absent: 1}, tally)

	w = f.do(t, http.MethodGet, "/api/logs?day=20261019", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Logs []attendance.LogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Logs, 2)
	assert.Equal(t, attendance.ActionEntry, out.Logs[0].Action)
	assert.Equal(t, attendance.ActionLeaveTemp, out.Logs[1].Action)
}

func TestHealthzAndHeaders(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(attendance.ErrWriteConflict))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(attendance.ErrTransportUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
