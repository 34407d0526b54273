// Handlers for mosquitto.conf, the dynamic-security store file, and
// password-file import.

package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bunkerm/mqadmin/pkg/brokerconf"
	"github.com/bunkerm/mqadmin/pkg/httputil"
)

func (s *Server) requireConf(w http.ResponseWriter) bool {
	if s.conf == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "not_configured", ErrMsgNotConfigured)
		return false
	}
	return true
}

func (s *Server) handleGetMosquittoConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConf(w) {
		return
	}
	conf, err := s.conf.Load()
	if err != nil {
		httputil.WriteInternalError(w, "operation_failed", sanitizeError(err, s.log, "load mosquitto.conf"))
		return
	}
	httputil.WriteOK(w, conf)
}

func (s *Server) handleSaveMosquittoConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConf(w) {
		return
	}
	var conf brokerconf.Conf
	if err := json.NewDecoder(r.Body).Decode(&conf); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if err := s.conf.Save(conf); err != nil {
		if errors.Is(err, brokerconf.ErrInvalidListeners) {
			// Listener conflicts are client mistakes; the detail is safe to return.
			httputil.WriteBadRequest(w, "invalid_listeners", err.Error())
			return
		}
		httputil.WriteInternalError(w, "operation_failed", sanitizeError(err, s.log, "save mosquitto.conf"))
		return
	}
	httputil.WriteOK(w, map[string]string{"status": "saved"})
}

func (s *Server) handleResetMosquittoConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConf(w) {
		return
	}
	if err := s.conf.Reset(); err != nil {
		httputil.WriteInternalError(w, "operation_failed", sanitizeError(err, s.log, "reset mosquitto.conf"))
		return
	}
	httputil.WriteOK(w, map[string]string{"status": "reset"})
}

type removeListenerRequest struct {
	Port int `json:"port"`
}

func (s *Server) handleRemoveListener(w http.ResponseWriter, r *http.Request) {
	if !s.requireConf(w) {
		return
	}
	var req removeListenerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if err := s.conf.RemoveListener(req.Port); err != nil {
		if errors.Is(err, brokerconf.ErrListenerNotFound) {
			httputil.WriteNotFound(w, "listener_not_found", "No listener on the requested port")
			return
		}
		httputil.WriteInternalError(w, "operation_failed",
			sanitizeError(err, s.log, "remove listener", "port", req.Port))
		return
	}
	httputil.WriteOK(w, map[string]int{"port": req.Port})
}

func (s *Server) requireDynsecStore(w http.ResponseWriter) bool {
	if s.dynsecStore == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "not_configured", ErrMsgNotConfigured)
		return false
	}
	return true
}

func (s *Server) handleGetDynsecConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsecStore(w) {
		return
	}
	doc, err := s.dynsecStore.Load()
	if err != nil {
		httputil.WriteInternalError(w, "operation_failed", sanitizeError(err, s.log, "load dynsec store"))
		return
	}
	httputil.WriteOK(w, doc)
}

func (s *Server) handleImportDynsecConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireDynsecStore(w) {
		return
	}
	var doc brokerconf.DynsecDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if err := doc.Validate(); err != nil {
		s.log.Warn("rejected dynsec import", "error", err)
		httputil.WriteBadRequest(w, "invalid_document", ErrMsgValidationFailed)
		return
	}
	if err := s.dynsecStore.Import(doc); err != nil {
		httputil.WriteInternalError(w, "operation_failed", sanitizeError(err, s.log, "import dynsec store"))
		return
	}
	httputil.WriteOK(w, map[string]string{"status": "imported"})
}

type importPasswordsRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleImportPasswords(w http.ResponseWriter, r *http.Request) {
	if s.passwd == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "not_configured", ErrMsgNotConfigured)
		return
	}
	var req importPasswordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid_json", sanitizeJSONError(err, s.log))
		return
	}
	if req.Content == "" {
		httputil.WriteBadRequest(w, "invalid_request", "content is required")
		return
	}
	result, err := s.passwd.Import([]byte(req.Content))
	if err != nil {
		if errors.Is(err, brokerconf.ErrInvalidPasswd) {
			// Line numbers help the operator fix the upload.
			httputil.WriteBadRequest(w, "invalid_passwd", err.Error())
			return
		}
		httputil.WriteInternalError(w, "operation_failed", sanitizeError(err, s.log, "import password file"))
		return
	}
	httputil.WriteOK(w, result)
}
