package httpmiddleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig bounds how many requests one client may send per window.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

// bucket counts requests in the current fixed window and remembers the
// previous one. The effective count weights the previous window by how much
// of it still overlaps the sliding window ending now.
type bucket struct {
	start time.Time
	curr  int
	prev  int
}

type limiter struct {
	max    int
	window time.Duration
	key    func(*http.Request) string

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{
		max:     cfg.Max,
		window:  cfg.Window,
		key:     cfg.KeyFunc,
		buckets: make(map[string]*bucket),
	}
	if l.key == nil {
		l.key = ClientIP
	}
	if l.window <= 0 {
		l.window = time.Minute
	}
	return l
}

// take records a request for key at now and reports whether it is allowed,
// how many requests remain and when the current window ends.
func (l *limiter) take(key string, now time.Time) (ok bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := now.Truncate(l.window)
	b := l.buckets[key]
	switch {
	case b == nil:
		b = &bucket{start: windowStart}
		l.buckets[key] = b
	case windowStart.Sub(b.start) >= 2*l.window:
		b.start, b.prev, b.curr = windowStart, 0, 0
	case windowStart.After(b.start):
		b.start, b.prev, b.curr = windowStart, b.curr, 0
	}

	reset = b.start.Add(l.window)
	overlap := 1 - float64(now.Sub(b.start))/float64(l.window)
	used := float64(b.prev)*overlap + float64(b.curr)
	if used >= float64(l.max) {
		return false, 0, reset
	}
	b.curr++
	remaining = l.max - int(used) - 1
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, reset
}

// evict drops buckets that can no longer influence a decision.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, b := range l.buckets {
		if now.Sub(b.start) >= 2*l.window {
			delete(l.buckets, k)
		}
	}
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit rejects clients exceeding cfg.Max requests per sliding window
// with 429. Limit headers are set on every response.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine that evicts idle clients
// until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go func() {
		t := time.NewTicker(2 * l.window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				l.evict(now)
			}
		}
	}()
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		ok, remaining, reset := l.take(l.key(r), now)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			secs := int(reset.Sub(now) / time.Second)
			if reset.Sub(now)%time.Second != 0 {
				secs++
			}
			h.Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
