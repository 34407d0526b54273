package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bunkerm/mqadmin/pkg/audit"
	"github.com/bunkerm/mqadmin/pkg/httputil"
)

type contextKey struct{}

var identityKey contextKey

// IdentityFrom returns the authenticated identity stored in the request
// context by the middleware, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Middleware builds per-route authorization middleware from a shared verifier.
type Middleware struct {
	verifier Verifier
	log      *slog.Logger
}

// NewMiddleware creates authorization middleware backed by the verifier.
func NewMiddleware(verifier Verifier, log *slog.Logger) *Middleware {
	return &Middleware{verifier: verifier, log: log}
}

// Require wraps next with bearer-token authentication and a minimum role
// check. The verified identity is stored in the request context.
func (m *Middleware) Require(required Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, "missing_credentials", "Bearer token required")
			return
		}

		id, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, ErrExpiredToken):
				m.log.Warn("expired token", "path", r.URL.Path)
				httputil.WriteUnauthorized(w, "token_expired", "Authentication token has expired")
			default:
				m.log.Warn("invalid token", "path", r.URL.Path)
				httputil.WriteUnauthorized(w, "invalid_token", "Invalid authentication token")
			}
			return
		}

		audit.SetIdentity(r.Context(), audit.Identity{
			UID:   id.UID,
			Email: id.Email,
			Role:  string(id.Role),
		})

		if !id.Role.Covers(required) {
			m.log.Warn("access denied",
				"email", id.Email, "role", id.Role, "required", required, "path", r.URL.Path)
			httputil.WriteForbidden(w, "insufficient_role", roleErrorMessage(required))
			return
		}

		m.log.Info("authenticated request", "email", id.Email, "role", id.Role, "path", r.URL.Path)
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	}
}

func roleErrorMessage(required Role) string {
	switch required {
	case RoleAdmin:
		return "Admin access required"
	case RoleModerator:
		return "Management access required"
	case RoleViewer:
		return "Insufficient permissions to view statistics"
	default:
		return "Access denied"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
