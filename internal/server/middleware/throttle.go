package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/owsrgate/owsrgate/internal/metrics"
)

// ThrottleConfig configures the per-client inbound token bucket.
type ThrottleConfig struct {
	RPS     float64
	Burst   int
	IdleTTL time.Duration
}

// Throttle limits each client IP to a token bucket. It protects the relay
// itself and is independent of the upstream admission windows.
type Throttle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle creates a throttle. Non-positive values fall back to 5 rps,
// burst 10 and a 15 minute idle TTL.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	return &Throttle{
		entries: make(map[string]*throttleEntry),
		limit:   rate.Limit(cfg.RPS),
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
	}
}

// Allow reports whether the client identified by key may proceed.
func (t *Throttle) Allow(key string) bool {
	now := t.now()

	t.mu.Lock()
	ent, ok := t.entries[key]
	if !ok {
		ent = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[key] = ent
	}
	ent.lastSeen = now
	t.mu.Unlock()

	return ent.limiter.AllowN(now, 1)
}

// Cleanup drops clients not seen within the idle TTL.
func (t *Throttle) Cleanup() {
	cutoff := t.now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, key)
		}
	}
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (t *Throttle) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Cleanup()
			}
		}
	}()
}

// Middleware rejects over-limit clients with 429.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || t.Allow(clientKey(r)) {
			next.ServeHTTP(w, r)
			return
		}

		metrics.RecordThrottled(getEndpointPattern(r))
		w.Header().Set("Retry-After", "1")
		writeErrorResponse(w, "RATE_LIMITED", "too many requests from this client", GetRequestID(r.Context()), http.StatusTooManyRequests)
	})
}

// clientKey uses the remote host; chi's RealIP has already applied
// X-Forwarded-For / X-Real-IP when present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
