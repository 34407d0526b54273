// Handlers for dynamic-security management backed by mosquitto_ctrl.

package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bunkerm/mqadmin/pkg/dynsec"
	"github.com/bunkerm/mqadmin/pkg/httputil"
)

func (s *Server) requireDynsec(w http.ResponseWriter) bool {
	if s.dynsec == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "not_configured", ErrMsgNotConfigured)
		return false
	}
	return true
}

type createClientRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	var req createClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "invalid_request", "username and password are required")
		return
	}
	if err := s.dynsec.CreateClient(r.Context(), req.Username, req.Password); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "create client", "username", req.Username))
		return
	}
	httputil.WriteCreated(w, map[string]string{"username": req.Username})
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	clients, err := s.dynsec.ListClients(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, "operation_failed", sanitizeError(err, s.log, "list clients"))
		return
	}
	httputil.WriteOK(w, map[string][]string{"clients": clients})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	username := r.PathValue("username")
	client, err := s.dynsec.GetClient(r.Context(), username)
	if err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "get client", "username", username))
		return
	}
	httputil.WriteOK(w, client)
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	username := r.PathValue("username")
	if err := s.dynsec.DeleteClient(r.Context(), username); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "delete client", "username", username))
		return
	}
	httputil.WriteOK(w, map[string]string{"username": username})
}

func (s *Server) handleEnableClient(w http.ResponseWriter, r *http.Request) {
	s.setClientEnabled(w, r, true)
}

func (s *Server) handleDisableClient(w http.ResponseWriter, r *http.Request) {
	s.setClientEnabled(w, r, false)
}

func (s *Server) setClientEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if !s.requireDynsec(w) {
		return
	}
	username := r.PathValue("username")
	var err error
	if enabled {
		err = s.dynsec.EnableClient(r.Context(), username)
	} else {
		err = s.dynsec.DisableClient(r.Context(), username)
	}
	if err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "set client state", "username", username, "enabled", enabled))
		return
	}
	httputil.WriteOK(w, map[string]any{"username": username, "enabled": enabled})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleAddClientRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	username := r.PathValue("username")
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if req.Role == "" {
		httputil.WriteBadRequest(w, "invalid_request", "role is required")
		return
	}
	if err := s.dynsec.AddClientRole(r.Context(), username, req.Role); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "add client role", "username", username, "role", req.Role))
		return
	}
	httputil.WriteOK(w, map[string]string{"username": username, "role": req.Role})
}

func (s *Server) handleRemoveClientRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	username := r.PathValue("username")
	role := r.PathValue("role")
	if err := s.dynsec.RemoveClientRole(r.Context(), username, role); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "remove client role", "username", username, "role", role))
		return
	}
	httputil.WriteOK(w, map[string]string{"username": username, "role": role})
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "invalid_request", "name is required")
		return
	}
	if err := s.dynsec.CreateRole(r.Context(), req.Name); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "create role", "role", req.Name))
		return
	}
	httputil.WriteCreated(w, map[string]string{"name": req.Name})
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	roles, err := s.dynsec.ListRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, "operation_failed", sanitizeError(err, s.log, "list roles"))
		return
	}
	httputil.WriteOK(w, map[string][]string{"roles": roles})
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	name := r.PathValue("name")
	role, err := s.dynsec.GetRole(r.Context(), name)
	if err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "get role", "role", name))
		return
	}
	httputil.WriteOK(w, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	name := r.PathValue("name")
	if err := s.dynsec.DeleteRole(r.Context(), name); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "delete role", "role", name))
		return
	}
	httputil.WriteOK(w, map[string]string{"name": name})
}

func (s *Server) handleAddRoleACL(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	name := r.PathValue("name")
	var acl dynsec.ACL
	if err := json.NewDecoder(r.Body).Decode(&acl); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if err := acl.Validate(); err != nil {
		s.log.Warn("rejected ACL", "role", name, "error", err)
		httputil.WriteBadRequest(w, "invalid_acl", ErrMsgValidationFailed)
		return
	}
	if err := s.dynsec.AddRoleACL(r.Context(), name, acl); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "add role ACL", "role", name))
		return
	}
	httputil.WriteCreated(w, acl)
}

type removeACLRequest struct {
	Type  string `json:"acltype"`
	Topic string `json:"topic"`
}

func (s *Server) handleRemoveRoleACL(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	name := r.PathValue("name")
	var req removeACLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if err := s.dynsec.RemoveRoleACL(r.Context(), name, req.Type, req.Topic); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "remove role ACL", "role", name))
		return
	}
	httputil.WriteOK(w, map[string]string{"role": name, "acltype": req.Type, "topic": req.Topic})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "invalid_request", "name is required")
		return
	}
	if err := s.dynsec.CreateGroup(r.Context(), req.Name); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "create group", "group", req.Name))
		return
	}
	httputil.WriteCreated(w, map[string]string{"name": req.Name})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	groups, err := s.dynsec.ListGroups(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, "operation_failed", sanitizeError(err, s.log, "list groups"))
		return
	}
	httputil.WriteOK(w, map[string][]string{"groups": groups})
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	name := r.PathValue("name")
	group, err := s.dynsec.GetGroup(r.Context(), name)
	if err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "get group", "group", name))
		return
	}
	httputil.WriteOK(w, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	name := r.PathValue("name")
	if err := s.dynsec.DeleteGroup(r.Context(), name); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "delete group", "group", name))
		return
	}
	httputil.WriteOK(w, map[string]string{"name": name})
}

func (s *Server) handleAddGroupRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	name := r.PathValue("name")
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if req.Role == "" {
		httputil.WriteBadRequest(w, "invalid_request", "role is required")
		return
	}
	if err := s.dynsec.AddGroupRole(r.Context(), name, req.Role); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "add group role", "group", name, "role", req.Role))
		return
	}
	httputil.WriteOK(w, map[string]string{"group": name, "role": req.Role})
}

func (s *Server) handleRemoveGroupRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	name := r.PathValue("name")
	role := r.PathValue("role")
	if err := s.dynsec.RemoveGroupRole(r.Context(), name, role); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "remove group role", "group", name, "role", role))
		return
	}
	httputil.WriteOK(w, map[string]string{"group": name, "role": role})
}

type memberRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleAddGroupClient(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	name := r.PathValue("name")
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if req.Username == "" {
		httputil.WriteBadRequest(w, "invalid_request", "username is required")
		return
	}
	if err := s.dynsec.AddGroupClient(r.Context(), name, req.Username); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "add group client", "group", name, "username", req.Username))
		return
	}
	httputil.WriteOK(w, map[string]string{"group": name, "username": req.Username})
}

func (s *Server) handleRemoveGroupClient(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsec(w) {
		return
	}
	name := r.PathValue("name")
	username := r.PathValue("username")
	if err := s.dynsec.RemoveGroupClient(r.Context(), name, username); err != nil {
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "remove group client", "group", name, "username", username))
		return
	}
	httputil.WriteOK(w, map[string]string{"group": name, "username": username})
}
