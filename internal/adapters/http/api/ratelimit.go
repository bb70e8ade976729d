package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/scoreboard/pkg/metrics"
)

const (
	// cleanupThreshold is the minimum map size before a cleanup pass runs.
	cleanupThreshold = 500
	// maxIdleAge is the duration after which an idle client entry is eligible for cleanup.
	maxIdleAge = 10 * time.Minute
)

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client address and prunes idle
// entries inline.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	r       rate.Limit
	b       int
}

// NewIPRateLimiter creates a limiter allowing perSecond requests with the given burst.
func NewIPRateLimiter(perSecond float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		clients: make(map[string]*clientEntry),
		r:       rate.Limit(perSecond),
		b:       burst,
	}
}

// Allow reports whether the client at ip may proceed now.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if len(l.clients) > cleanupThreshold {
		cutoff := now.Add(-maxIdleAge)
		for k, e := range l.clients {
			if e.lastSeen.Before(cutoff) {
				delete(l.clients, k)
			}
		}
	}

	e, ok := l.clients[ip]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(l.r, l.b)}
		l.clients[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// RateLimitMiddleware rejects requests over the per-client budget with 429.
func RateLimitMiddleware(limiter *IPRateLimiter, endpoint string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !limiter.Allow(ip) {
				metrics.RecordRateLimited(endpoint)
				writeError(w, http.StatusTooManyRequests, ErrRateLimited.Error())
				return
			}
			next(w, r)
		}
	}
}
