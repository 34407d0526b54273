package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunkerm/mqadmin/pkg/auth"
	"github.com/bunkerm/mqadmin/pkg/brokerlog"
	"github.com/bunkerm/mqadmin/pkg/logging"
	"github.com/bunkerm/mqadmin/pkg/ratelimit"
	"github.com/bunkerm/mqadmin/pkg/stats"
)

func TestStatsSnapshot(t *testing.T) {
	s := newTestServer(t, WithStats(&fakeStats{snap: stats.Snapshot{
		TotalConnectedClients: 4,
		TotalMessagesReceived: "1.2K",
		MQTTConnected:         true,
	}}))

	rec := doRequest(s, http.MethodGet, "/api/v1/stats", testToken(t, auth.RoleViewer), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(4), snap.TotalConnectedClients)
	assert.Equal(t, "1.2K", snap.TotalMessagesReceived)
	assert.True(t, snap.MQTTConnected)
	assert.Empty(t, snap.StatsTimestamp)
}

func TestStatsIncludeTimestamps(t *testing.T) {
	s := newTestServer(t, WithStats(&fakeStats{}))

	rec := doRequest(s, http.MethodGet, "/api/v1/stats?include_timestamps=true", testToken(t, auth.RoleViewer), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stats_timestamp":"2026-08-29T12:00:00Z"`)

	rec = doRequest(s, http.MethodGet, "/api/v1/stats?include_timestamps=banana", testToken(t, auth.RoleViewer), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsTimeout(t *testing.T) {
	s := newTestServer(t, WithStats(&fakeStats{err: stats.ErrSnapshotTimeout}))

	rec := doRequest(s, http.MethodGet, "/api/v1/stats", testToken(t, auth.RoleViewer), "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "snapshot_timeout")
}

func TestStatsBackendError(t *testing.T) {
	s := newTestServer(t, WithStats(&fakeStats{err: errors.New("disk on fire")}))

	rec := doRequest(s, http.MethodGet, "/api/v1/stats", testToken(t, auth.RoleViewer), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// Internal failure details never reach the client.
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestStatsAuthTiers(t *testing.T) {
	s := newTestServer(t, WithStats(&fakeStats{}))

	rec := doRequest(s, http.MethodGet, "/api/v1/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/stats", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/stats", testToken(t, auth.RoleUser), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, role := range []auth.Role{auth.RoleViewer, auth.RoleModerator, auth.RoleAdmin} {
		rec = doRequest(s, http.MethodGet, "/api/v1/stats", testToken(t, role), "")
		assert.Equal(t, http.StatusOK, rec.Code, string(role))
	}
}

func TestStatsRateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{PerMinute: 2})
	defer limiter.Stop()
	s := newTestServer(t, WithStats(&fakeStats{}), WithRateLimiter(limiter))
	token := testToken(t, auth.RoleViewer)

	for i := 0; i < 2; i++ {
		rec := doRequest(s, http.MethodGet, "/api/v1/stats", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(s, http.MethodGet, "/api/v1/stats", token, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other routes are not limited.
	rec = doRequest(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func newEventsServer(t *testing.T) (*Server, *brokerlog.Monitor) {
	t.Helper()
	monitor := brokerlog.NewMonitor(logging.Nop())
	return newTestServer(t, WithClientLog(monitor)), monitor
}

func TestListEvents(t *testing.T) {
	s, monitor := newEventsServer(t)
	monitor.ProcessLine("1756440000: New client connected from 10.0.0.5:49152 as sensor-1 (p5, c1, k60, u'alice')")
	monitor.ProcessLine("1756440100: Client sensor-1 disconnected")

	rec := doRequest(s, http.MethodGet, "/api/v1/events", testToken(t, auth.RoleModerator), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []brokerlog.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, brokerlog.EventDisconnected, body.Events[0].EventType)
	assert.Equal(t, brokerlog.EventConnected, body.Events[1].EventType)
	assert.Equal(t, "alice", body.Events[1].Username)
}

func TestConnectedClientsEndpoint(t *testing.T) {
	s, monitor := newEventsServer(t)
	monitor.ProcessLine("1756440000: New client connected from 10.0.0.5:49152 as sensor-1 (p4, c1, k30, u'alice')")

	rec := doRequest(s, http.MethodGet, "/api/v1/connected-clients", testToken(t, auth.RoleModerator), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Clients []brokerlog.Event `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Clients, 1)
	assert.Equal(t, "sensor-1", body.Clients[0].ClientID)
}

func TestEventsAuthTier(t *testing.T) {
	s, _ := newEventsServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/events", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/events", testToken(t, auth.RoleViewer), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEventsNotConfigured(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/events", testToken(t, auth.RoleModerator), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
