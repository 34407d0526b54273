package audit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey int

const (
	traceIDKey contextKey = iota
	identityKey
)

// Identity is the authenticated caller recorded on an entry.
type Identity struct {
	UID   string
	Email string
	Role  string
}

// identityHolder lets middleware deeper in the chain report the caller back
// to the audit middleware that wraps it.
type identityHolder struct {
	mu sync.Mutex
	id Identity
	ok bool
}

// SetIdentity records the authenticated caller for the current request. It
// is a no-op when no audit middleware wraps the request.
func SetIdentity(ctx context.Context, id Identity) {
	if holder, ok := ctx.Value(identityKey).(*identityHolder); ok {
		holder.mu.Lock()
		holder.id = id
		holder.ok = true
		holder.mu.Unlock()
	}
}

// TraceID returns the request's trace ID, or "" outside an audited request.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware logs one entry per request with a fresh trace ID. A nil logger
// disables auditing without changing the chain.
func Middleware(logger Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = NopLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			traceID := uuid.New().String()

			holder := &identityHolder{}
			ctx := context.WithValue(r.Context(), traceIDKey, traceID)
			ctx = context.WithValue(ctx, identityKey, holder)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			entry := Entry{
				Timestamp:  start.UTC(),
				TraceID:    traceID,
				Event:      EventRequest,
				Method:     r.Method,
				Path:       r.URL.Path,
				Query:      r.URL.RawQuery,
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.Header.Get("User-Agent"),
				Status:     rec.status,
				DurationMS: time.Since(start).Milliseconds(),
			}

			holder.mu.Lock()
			if holder.ok {
				entry.UID = holder.id.UID
				entry.Email = holder.id.Email
				entry.Role = holder.id.Role
			}
			holder.mu.Unlock()

			if rec.status == http.StatusUnauthorized || rec.status == http.StatusForbidden {
				entry.Event = EventAuthFailed
			}

			// Audit failures must not fail the request itself.
			_ = logger.Log(entry)
		})
	}
}
