// Package admin exposes the management REST API for the broker backend.
package admin

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bunkerm/mqadmin/pkg/audit"
	"github.com/bunkerm/mqadmin/pkg/auth"
	"github.com/bunkerm/mqadmin/pkg/brokerconf"
	"github.com/bunkerm/mqadmin/pkg/brokerlog"
	"github.com/bunkerm/mqadmin/pkg/dynsec"
	"github.com/bunkerm/mqadmin/pkg/logging"
	"github.com/bunkerm/mqadmin/pkg/ratelimit"
	"github.com/bunkerm/mqadmin/pkg/stats"
)

// ShutdownTimeout bounds graceful shutdown of in-flight requests.
const ShutdownTimeout = 5 * time.Second

// StatsProvider supplies the aggregated statistics snapshot.
// Satisfied by *stats.Aggregator.
type StatsProvider interface {
	Snapshot(ctx context.Context, includeTimestamps bool) (stats.Snapshot, error)
}

// Server serves the management API over HTTP.
type Server struct {
	listen string

	stats       StatsProvider
	dynsec      *dynsec.Service
	conf        *brokerconf.ConfManager
	dynsecStore *brokerconf.DynsecStore
	passwd      *brokerconf.PasswdImporter
	clientLog   *brokerlog.Monitor

	auth        *auth.Middleware
	limiter     *ratelimit.Limiter
	auditLog    audit.Logger
	corsOrigins []string
	version     string

	startTime  time.Time
	httpServer *http.Server
	listener   net.Listener
	log        *slog.Logger
}

// New creates a Server listening on addr. Collaborators are supplied
// through options; routes whose collaborator is missing return 503.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		listen:   addr,
		auditLog: audit.NopLogger{},
		version:  "dev",
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the full middleware chain around the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var h http.Handler = mux
	h = s.metricsMiddleware(h)
	h = audit.Middleware(s.auditLog)(h)
	h = s.corsMiddleware(h)
	h = securityHeaders(h)
	return h
}

// Start begins serving in the background. The bound address is
// available from Addr once Start returns.
func (s *Server) Start() error {
	s.startTime = time.Now()

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.listener = ln

	s.log.Info("starting management API", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("management API error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or the configured address
// before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listen
}

// Stop gracefully shuts down the server and its rate limiter.
func (s *Server) Stop() error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	if cerr := s.auditLog.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Uptime returns seconds since Start.
func (s *Server) Uptime() int {
	if s.startTime.IsZero() {
		return 0
	}
	return int(time.Since(s.startTime).Seconds())
}
