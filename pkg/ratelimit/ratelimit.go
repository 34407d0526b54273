// Package ratelimit provides per-client token-bucket rate limiting for the
// management API. The stats endpoint is polled aggressively by dashboards, so
// each client address gets a fixed requests-per-minute budget.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Defaults for the per-IP limiter.
const (
	DefaultPerMinute       = 30
	DefaultCleanupInterval = 1 * time.Minute
	DefaultEntryTTL        = 3 * time.Minute
)

// bucket tracks the remaining budget for a single client address.
type bucket struct {
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// Config configures a Limiter.
type Config struct {
	// PerMinute is the sustained budget per client address. It is also the
	// burst capacity: a fresh client can issue PerMinute requests at once.
	PerMinute int

	// TrustProxyHeaders enables X-Forwarded-For / X-Real-IP resolution.
	// Only enable when the API sits behind a trusted reverse proxy.
	TrustProxyHeaders bool

	// CleanupInterval controls how often idle entries are evicted.
	CleanupInterval time.Duration

	// EntryTTL is how long an entry survives without activity.
	EntryTTL time.Duration
}

// Limiter implements per-client-address rate limiting using token buckets.
type Limiter struct {
	perMinute  int
	ratePerSec float64
	trustProxy bool

	mu      sync.RWMutex
	buckets map[string]*bucket

	cleanupInterval time.Duration
	entryTTL        time.Duration
	stopCh          chan struct{}
	stoppedCh       chan struct{}
}

// New creates a Limiter and starts its background cleanup goroutine.
// Call Stop when the limiter is no longer needed.
func New(cfg Config) *Limiter {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	entryTTL := cfg.EntryTTL
	if entryTTL <= 0 {
		entryTTL = DefaultEntryTTL
	}

	l := &Limiter{
		perMinute:       perMinute,
		ratePerSec:      float64(perMinute) / 60.0,
		trustProxy:      cfg.TrustProxyHeaders,
		buckets:         make(map[string]*bucket),
		cleanupInterval: cleanupInterval,
		entryTTL:        entryTTL,
		stopCh:          make(chan struct{}),
		stoppedCh:       make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// PerMinute returns the configured per-client budget.
func (l *Limiter) PerMinute() int {
	return l.perMinute
}

// Allow reports whether a request from addr is within budget.
// It returns the remaining tokens and, when denied, the number of seconds
// until a token becomes available.
func (l *Limiter) Allow(addr string) (allowed bool, remaining int, retryAfterSec int64) {
	now := time.Now()

	l.mu.RLock()
	b, ok := l.buckets[addr]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		b, ok = l.buckets[addr]
		if !ok {
			b = &bucket{tokens: float64(l.perMinute), lastUpdate: now}
			l.buckets[addr] = b
		}
		l.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens += elapsed * l.ratePerSec
	if b.tokens > float64(l.perMinute) {
		b.tokens = float64(l.perMinute)
	}
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		rem := int(b.tokens)
		if rem < 0 {
			rem = 0
		}
		return true, rem, 0
	}

	retry := int64((1 - b.tokens) / l.ratePerSec)
	if retry < 1 {
		retry = 1
	}
	return false, 0, retry
}

// ClientAddr extracts the client address from the request. When proxy headers
// are trusted, X-Forwarded-For (first hop) and X-Real-IP take precedence over
// the socket address.
func (l *Limiter) ClientAddr(r *http.Request) string {
	if l.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				xff = xff[:idx]
			}
			if ip := strings.TrimSpace(xff); net.ParseIP(ip) != nil {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Stop terminates the cleanup goroutine and waits for it to exit.
func (l *Limiter) Stop() {
	close(l.stopCh)
	<-l.stoppedCh
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()
	defer close(l.stoppedCh)

	for {
		select {
		case <-ticker.C:
			l.removeStale()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) removeStale() {
	cutoff := time.Now().Add(-l.entryTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, b := range l.buckets {
		b.mu.Lock()
		if b.lastUpdate.Before(cutoff) {
			delete(l.buckets, addr)
		}
		b.mu.Unlock()
	}
}
