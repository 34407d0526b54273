package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bunkerm/mqadmin/pkg/httputil"
	"github.com/bunkerm/mqadmin/pkg/stats"
)

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  int    `json:"uptime_seconds"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOK(w, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  s.Uptime(),
	})
}

// handleStats handles GET /api/v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "not_configured", ErrMsgNotConfigured)
		return
	}

	include := false
	if q := r.URL.Query().Get("include_timestamps"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid_parameter", "include_timestamps must be a boolean")
			return
		}
		include = v
	}

	snap, err := s.stats.Snapshot(r.Context(), include)
	if err != nil {
		if errors.Is(err, stats.ErrSnapshotTimeout) {
			s.log.Warn("stats snapshot timed out")
			httputil.WriteGatewayTimeout(w, "snapshot_timeout", ErrMsgStatsTimeout)
			return
		}
		httputil.WriteInternalError(w, "internal_error", sanitizeError(err, s.log, "stats snapshot"))
		return
	}
	httputil.WriteOK(w, snap)
}

// handleListEvents handles GET /api/v1/events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.clientLog == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "not_configured", ErrMsgNotConfigured)
		return
	}
	httputil.WriteOK(w, map[string]any{"events": s.clientLog.Events()})
}

// handleConnectedClients handles GET /api/v1/connected-clients.
func (s *Server) handleConnectedClients(w http.ResponseWriter, r *http.Request) {
	if s.clientLog == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "not_configured", ErrMsgNotConfigured)
		return
	}
	httputil.WriteOK(w, map[string]any{"clients": s.clientLog.ConnectedClients()})
}
