package journal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/livox.bridge/internal/livox"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenStoreMigrates(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	var journalMode string
	require.NoError(t, s.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	// Running again is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, s.BeginSession("a", "cfg.json", "udp", t0))
	require.NoError(t, s.Close())

	s, err = OpenStore(path)
	require.NoError(t, err)
	defer s.Close()
	sessions, err := s.ListSessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "a", sessions[0].ID)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.BeginSession("s1", "/etc/mid360.json", "replay", t0))
	sessions, err := s.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Nil(t, sessions[0].StoppedAt)

	snap := livox.Snapshot{Serial: "SN1", LidarIP: "192.168.1.12", TotalPoints: 12345, EvictedSamples: 45}
	require.NoError(t, s.EndSession("s1", t0.Add(time.Minute), snap))

	sessions, err = s.ListSessions(10)
	require.NoError(t, err)
	stopped := t0.Add(time.Minute)
	want := []Session{{
		ID:             "s1",
		ConfigPath:     "/etc/mid360.json",
		Driver:         "replay",
		StartedAt:      t0,
		StoppedAt:      &stopped,
		Serial:         "SN1",
		LidarIP:        "192.168.1.12",
		TotalPoints:    12345,
		EvictedSamples: 45,
	}}
	if diff := cmp.Diff(want, sessions); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestEndUnknownSession(t *testing.T) {
	s := openTestStore(t)
	err := s.EndSession("missing", t0, livox.Snapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDuplicateSessionRejected(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.BeginSession("dup", "a.json", "udp", t0))
	assert.Error(t, s.BeginSession("dup", "a.json", "udp", t0))
}

func TestListSessionsNewestFirstWithLimit(t *testing.T) {
	s := openTestStore(t)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.BeginSession(id, "cfg.json", "synthetic", t0.Add(time.Duration(i)*time.Second)))
	}

	sessions, err := s.ListSessions(2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "c", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)
}

func TestEvents(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.RecordEvent("", t0, "start_failed", "Config file not found: x.json"))
	require.NoError(t, s.RecordEvent("s1", t0.Add(time.Second), "start", "cfg.json"))
	require.NoError(t, s.RecordEvent("s1", t0.Add(2*time.Second), "status", "Connected to SN1 (192.168.1.12)"))
	require.NoError(t, s.RecordEvent("s2", t0.Add(3*time.Second), "start", "cfg.json"))

	all, err := s.ListEvents("", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "", all[0].SessionID)
	assert.Equal(t, t0, all[0].At)

	s1, err := s.ListEvents("s1", 0)
	require.NoError(t, err)
	var kinds []string
	for _, e := range s1 {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []string{"start", "status"}, kinds)

	limited, err := s.ListEvents("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.RecordEvent("s1", t0, "start", "cfg.json"))

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/events?session=s1", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// tsweb may refuse non-debug clients with 403; the route must exist.
	require.NotEqual(t, http.StatusNotFound, rec.Code)
	if rec.Code == http.StatusOK {
		var events []Event
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
		require.Len(t, events, 1)
		assert.Equal(t, "start", events[0].Kind)
	}

	req = httptest.NewRequest(http.MethodGet, "/debug/tailsql/", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
}
