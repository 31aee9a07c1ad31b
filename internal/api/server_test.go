package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanhub/internal/roster"
	"scanhub/internal/store"
	"scanhub/pkg/types"
)

type fakeRegistry struct {
	nodes []types.NodeInfo
}

func (f *fakeRegistry) Nodes() []types.NodeInfo { return f.nodes }

func (f *fakeRegistry) Stats() map[string]int {
	return map[string]int{"total_connections": len(f.nodes), "registered_connections": len(f.nodes)}
}

type broadcastCall struct {
	message any
	roles   []types.Role
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeBroadcaster) Broadcast(v any, roles []types.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{message: v, roles: roles})
	return 0
}

func (f *fakeBroadcaster) recorded() []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broadcastCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type serverFixture struct {
	server      *Server
	store       *store.Store
	roster      *roster.Cache
	broadcaster *fakeBroadcaster
	registry    *fakeRegistry
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	st, err := store.New(dir, logger)
	require.NoError(t, err)
	rc, err := roster.New(dir, logger)
	require.NoError(t, err)

	registry := &fakeRegistry{}
	broadcaster := &fakeBroadcaster{}
	return &serverFixture{
		server:      NewServer(rc, st, registry, broadcaster, nil, "", logger),
		store:       st,
		roster:      rc,
		broadcaster: broadcaster,
		registry:    registry,
	}
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload_ReplacesRosterAndNotifiesFirstScan(t *testing.T) {
	f := newServerFixture(t)

	csvData := "Student ID,Name\ns-1,Alice\ns-2,Bob\n,Nameless\n"
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, multipartUpload(t, "roster.csv", csvData))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Version       int      `json:"version"`
		StudentsCount int      `json:"studentsCount"`
		Errors        []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Version)
	assert.Equal(t, 2, resp.StudentsCount)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "row 4")

	calls := f.broadcaster.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, []types.Role{types.RoleFirstScan}, calls[0].roles)
	msg, ok := calls[0].message.(types.CacheMessage)
	require.True(t, ok)
	assert.Equal(t, types.MessageTypeCacheUpdate, msg.Type)
	assert.Equal(t, 1, msg.Version)
}

func TestUpload_MissingFile(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/upload", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.broadcaster.recorded())
}

func TestUpload_MissingIDColumn(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, multipartUpload(t, "roster.csv", "Name\nAlice\n"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Student ID column not found")
	// The roster version must not advance on a rejected upload.
	assert.Equal(t, 0, f.roster.CurrentSnapshot().Version)
	assert.Empty(t, f.broadcaster.recorded())
}

func TestUpload_NoValidRowsIncludesDetails(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, multipartUpload(t, "roster.csv", "Student ID\n\n\n"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
	assert.NotEmpty(t, resp.Details)
}

func TestUpload_UnsupportedFormat(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, multipartUpload(t, "roster.txt", "whatever"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpoint(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.roster.Replace([]types.StudentRosterRow{{
		StudentID:          "s-1",
		RegistrationStatus: types.StatusUnknown,
		HomeworkStatus:     types.StatusUnknown,
		LastUpdatedAt:      types.NowISO(),
	}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cache", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot types.RosterSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, 1, snapshot.Version)
	require.Len(t, snapshot.Students, 1)
	assert.Equal(t, "s-1", snapshot.Students[0].StudentID)
}

func TestStateEndpoint(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.store.MergeStudentRecord(types.StudentRecordPayload{
		StudentID:          "s-1",
		RegistrationStatus: "registered",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var state map[string]types.StudentState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Contains(t, state, "s-1")
	assert.Equal(t, types.StatusRegistered, state["s-1"].RegistrationStatus)
}

func TestEventsEndpoints(t *testing.T) {
	f := newServerFixture(t)

	// Empty log: the ndjson stream is empty, the JSON view returns an
	// empty array.
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	ev := store.NewEvent(types.StudentRecordPayload{StudentID: "s-1"}, "node-a")
	ev.TS = "2026-08-01T10:00:00Z"
	require.NoError(t, f.store.AppendEvent(ev))
	later := store.NewEvent(types.StudentRecordPayload{StudentID: "s-2"}, "node-a")
	later.TS = "2026-08-02T10:00:00Z"
	require.NoError(t, f.store.AppendEvent(later))

	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "\n"))

	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events_json?since=2026-08-02T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []types.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "s-2", resp.Events[0].Payload.StudentID)
}

func TestNodesEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.registry.nodes = []types.NodeInfo{{NodeID: "n-1", Name: "station-1", Role: types.RoleFirstScan, LastSeen: types.NowISO()}}

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nodes", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Nodes []types.NodeInfo `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Nodes, 1)
	assert.Equal(t, "station-1", resp.Nodes[0].Name)
}

func TestBackupEndpoint(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.store.MergeStudentRecord(types.StudentRecordPayload{
		StudentID:          "s-1",
		RegistrationStatus: "registered",
		HomeworkStatus:     "done",
	})
	require.NoError(t, err)

	tests := []struct {
		format      string
		contentType string
		ext         string
	}{
		{"json", "application/json", ".json"},
		{"csv", "text/csv", ".csv"},
		{"excel", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/backup/"+tt.format, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			disposition := rec.Header().Get("Content-Disposition")
			assert.Contains(t, disposition, "attachment")
			assert.Contains(t, disposition, "student-data-")
			assert.Contains(t, disposition, tt.ext)
			assert.NotEmpty(t, rec.Body.Bytes())
		})
	}

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/backup/pdf", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetEndpoint(t *testing.T) {
	f := newServerFixture(t)

	_, err := f.roster.Replace([]types.StudentRosterRow{{StudentID: "s-1", LastUpdatedAt: types.NowISO()}})
	require.NoError(t, err)
	_, err = f.store.MergeStudentRecord(types.StudentRecordPayload{StudentID: "s-1"})
	require.NoError(t, err)
	require.NoError(t, f.store.AppendEvent(store.NewEvent(types.StudentRecordPayload{StudentID: "s-1"}, "n")))

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 0, f.roster.CurrentSnapshot().Version)
	state, err := f.store.LoadState()
	require.NoError(t, err)
	assert.Empty(t, state)
	events, err := f.store.LoadEvents("")
	require.NoError(t, err)
	assert.Empty(t, events)

	// Every connected station hears about the reset, whatever its role.
	calls := f.broadcaster.recorded()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].roles)
	_, ok := calls[0].message.(types.SystemResetMessage)
	assert.True(t, ok)
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Contains(t, resp, "cacheVersion")
	assert.Contains(t, resp, "connections")
}
