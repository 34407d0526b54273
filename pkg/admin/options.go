// Option functions for configuring the management API server.

package admin

import (
	"log/slog"

	"github.com/bunkerm/mqadmin/pkg/audit"
	"github.com/bunkerm/mqadmin/pkg/auth"
	"github.com/bunkerm/mqadmin/pkg/brokerconf"
	"github.com/bunkerm/mqadmin/pkg/brokerlog"
	"github.com/bunkerm/mqadmin/pkg/dynsec"
	"github.com/bunkerm/mqadmin/pkg/ratelimit"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStats wires the statistics snapshot provider.
func WithStats(p StatsProvider) Option {
	return func(s *Server) {
		s.stats = p
	}
}

// WithDynsec wires the dynamic-security command service.
func WithDynsec(svc *dynsec.Service) Option {
	return func(s *Server) {
		s.dynsec = svc
	}
}

// WithConfManager wires the mosquitto.conf manager.
func WithConfManager(m *brokerconf.ConfManager) Option {
	return func(s *Server) {
		s.conf = m
	}
}

// WithDynsecStore wires the dynamic-security JSON store.
func WithDynsecStore(store *brokerconf.DynsecStore) Option {
	return func(s *Server) {
		s.dynsecStore = store
	}
}

// WithPasswdImporter wires the password-file importer.
func WithPasswdImporter(imp *brokerconf.PasswdImporter) Option {
	return func(s *Server) {
		s.passwd = imp
	}
}

// WithClientLog wires the broker log monitor serving client session
// events.
func WithClientLog(m *brokerlog.Monitor) Option {
	return func(s *Server) {
		s.clientLog = m
	}
}

// WithAuth sets the bearer-token authorization middleware. Without it
// every protected route rejects with 503.
func WithAuth(m *auth.Middleware) Option {
	return func(s *Server) {
		s.auth = m
	}
}

// WithRateLimiter sets the per-IP limiter applied to the stats route.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithAuditLogger sets the request audit logger.
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.auditLog = l
		}
	}
}

// WithCORS restricts cross-origin requests to the given origins.
// Empty means same-origin only (no CORS headers emitted).
func WithCORS(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithVersion sets the version string reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}
