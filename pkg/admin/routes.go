// Route registration for the management API.

package admin

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bunkerm/mqadmin/pkg/auth"
	"github.com/bunkerm/mqadmin/pkg/httputil"
	"github.com/bunkerm/mqadmin/pkg/ratelimit"
)

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health and metrics, no auth
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Statistics snapshot, viewer tier, per-IP rate limited
	statsRoute := s.protect(auth.RoleViewer, s.handleStats)
	if s.limiter != nil {
		statsRoute = ratelimit.Middleware(s.limiter)(statsRoute)
	}
	mux.Handle("GET /api/v1/stats", statsRoute)

	// Dynamic-security clients, management tier
	mux.Handle("POST /api/v1/clients", s.protect(auth.RoleModerator, s.handleCreateClient))
	mux.Handle("GET /api/v1/clients", s.protect(auth.RoleModerator, s.handleListClients))
	mux.Handle("GET /api/v1/clients/{username}", s.protect(auth.RoleModerator, s.handleGetClient))
	mux.Handle("DELETE /api/v1/clients/{username}", s.protect(auth.RoleModerator, s.handleDeleteClient))
	mux.Handle("PUT /api/v1/clients/{username}/enable", s.protect(auth.RoleModerator, s.handleEnableClient))
	mux.Handle("PUT /api/v1/clients/{username}/disable", s.protect(auth.RoleModerator, s.handleDisableClient))
	mux.Handle("POST /api/v1/clients/{username}/roles", s.protect(auth.RoleModerator, s.handleAddClientRole))
	mux.Handle("DELETE /api/v1/clients/{username}/roles/{role}", s.protect(auth.RoleModerator, s.handleRemoveClientRole))

	// Roles; creation, deletion and ACL edits are admin tier
	mux.Handle("POST /api/v1/roles", s.protect(auth.RoleAdmin, s.handleCreateRole))
	mux.Handle("GET /api/v1/roles", s.protect(auth.RoleModerator, s.handleListRoles))
	mux.Handle("GET /api/v1/roles/{name}", s.protect(auth.RoleModerator, s.handleGetRole))
	mux.Handle("DELETE /api/v1/roles/{name}", s.protect(auth.RoleAdmin, s.handleDeleteRole))
	mux.Handle("POST /api/v1/roles/{name}/acls", s.protect(auth.RoleAdmin, s.handleAddRoleACL))
	mux.Handle("DELETE /api/v1/roles/{name}/acls", s.protect(auth.RoleAdmin, s.handleRemoveRoleACL))

	// Groups and memberships, management tier
	mux.Handle("POST /api/v1/groups", s.protect(auth.RoleModerator, s.handleCreateGroup))
	mux.Handle("GET /api/v1/groups", s.protect(auth.RoleModerator, s.handleListGroups))
	mux.Handle("GET /api/v1/groups/{name}", s.protect(auth.RoleModerator, s.handleGetGroup))
	mux.Handle("DELETE /api/v1/groups/{name}", s.protect(auth.RoleModerator, s.handleDeleteGroup))
	mux.Handle("POST /api/v1/groups/{name}/roles", s.protect(auth.RoleModerator, s.handleAddGroupRole))
	mux.Handle("DELETE /api/v1/groups/{name}/roles/{role}", s.protect(auth.RoleModerator, s.handleRemoveGroupRole))
	mux.Handle("POST /api/v1/groups/{name}/clients", s.protect(auth.RoleModerator, s.handleAddGroupClient))
	mux.Handle("DELETE /api/v1/groups/{name}/clients/{username}", s.protect(auth.RoleModerator, s.handleRemoveGroupClient))

	// Broker configuration; writes are admin tier
	mux.Handle("GET /api/v1/mosquitto-config", s.protect(auth.RoleModerator, s.handleGetMosquittoConfig))
	mux.Handle("POST /api/v1/mosquitto-config", s.protect(auth.RoleAdmin, s.handleSaveMosquittoConfig))
	mux.Handle("POST /api/v1/reset-mosquitto-config", s.protect(auth.RoleAdmin, s.handleResetMosquittoConfig))
	mux.Handle("POST /api/v1/remove-mosquitto-listener", s.protect(auth.RoleAdmin, s.handleRemoveListener))

	// Dynamic-security store file
	mux.Handle("GET /api/v1/dynsec-config", s.protect(auth.RoleModerator, s.handleGetDynsecConfig))
	mux.Handle("POST /api/v1/dynsec-config", s.protect(auth.RoleAdmin, s.handleImportDynsecConfig))

	// Password-file import
	mux.Handle("POST /api/v1/passwords/import", s.protect(auth.RoleAdmin, s.handleImportPasswords))

	// Client session events from the broker log
	mux.Handle("GET /api/v1/events", s.protect(auth.RoleModerator, s.handleListEvents))
	mux.Handle("GET /api/v1/connected-clients", s.protect(auth.RoleModerator, s.handleConnectedClients))
}

// protect wraps a handler with bearer-token auth at the given minimum
// role. Without an auth middleware configured the route is disabled.
func (s *Server) protect(role auth.Role, h http.HandlerFunc) http.Handler {
	if s.auth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteError(w, http.StatusServiceUnavailable, "not_configured", ErrMsgNotConfigured)
		})
	}
	return s.auth.Require(role, h)
}
