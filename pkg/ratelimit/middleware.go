package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/bunkerm/mqadmin/pkg/httputil"
	"github.com/bunkerm/mqadmin/pkg/metrics"
)

// Middleware returns an HTTP middleware that enforces per-client rate
// limiting. A nil limiter passes all requests through.
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			addr := limiter.ClientAddr(r)
			allowed, remaining, retryAfter := limiter.Allow(addr)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.PerMinute()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			metrics.HTTPRateLimited.Inc()
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			httputil.WriteTooManyRequests(w, "rate_limit_exceeded", "Too many requests. Please slow down.")
		})
	}
}
