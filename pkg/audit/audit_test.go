package audit

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	require.NoError(t, logger.Log(Entry{Event: EventRequest, Path: "/api/v1/stats", Status: 200}))
	require.NoError(t, logger.Log(Entry{Event: EventAuthFailed, Path: "/api/v1/clients", Status: 401}))
	require.NoError(t, logger.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Sequence)
	assert.Equal(t, int64(2), entries[1].Sequence)
	assert.Equal(t, EventAuthFailed, entries[1].Event)
}

func TestFileLoggerRejectsAfterClose(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	require.Error(t, logger.Log(Entry{}))
	// Double close is fine.
	require.NoError(t, logger.Close())
}

func TestNewLoggerSelection(t *testing.T) {
	logger, err := NewLogger("")
	require.NoError(t, err)
	assert.IsType(t, NopLogger{}, logger)

	logger, err = NewLogger("stdout")
	require.NoError(t, err)
	assert.IsType(t, &StdoutLogger{}, logger)

	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err = NewLogger(path)
	require.NoError(t, err)
	assert.IsType(t, &FileLogger{}, logger)
	logger.Close()
}

// captureLogger collects entries in memory.
type captureLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *captureLogger) Log(entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *captureLogger) Close() error { return nil }

func TestMiddlewareLogsRequest(t *testing.T) {
	capture := &captureLogger{}
	handler := Middleware(capture)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, TraceID(r.Context()))
		SetIdentity(r.Context(), Identity{UID: "u1", Email: "ops@example.com", Role: "admin"})
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients?dry=1", nil)
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Len(t, capture.entries, 1)
	e := capture.entries[0]
	assert.Equal(t, EventRequest, e.Event)
	assert.Equal(t, http.MethodPost, e.Method)
	assert.Equal(t, "/api/v1/clients", e.Path)
	assert.Equal(t, "dry=1", e.Query)
	assert.Equal(t, http.StatusCreated, e.Status)
	assert.Equal(t, "ops@example.com", e.Email)
	assert.Equal(t, "admin", e.Role)
	assert.NotEmpty(t, e.TraceID)
	assert.Equal(t, "test-agent", e.UserAgent)
}

func TestMiddlewareMarksAuthFailures(t *testing.T) {
	capture := &captureLogger{}
	handler := Middleware(capture)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil))

	require.Len(t, capture.entries, 1)
	assert.Equal(t, EventAuthFailed, capture.entries[0].Event)
}

func TestMiddlewareUniqueTraceIDs(t *testing.T) {
	capture := &captureLogger{}
	handler := Middleware(capture)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	}

	seen := map[string]bool{}
	for _, e := range capture.entries {
		assert.False(t, seen[e.TraceID])
		seen[e.TraceID] = true
	}
}

func TestSetIdentityWithoutMiddlewareIsNoop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	SetIdentity(req.Context(), Identity{UID: "u1"})
	assert.Empty(t, TraceID(req.Context()))
}
