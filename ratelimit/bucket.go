// Package ratelimit guards chat endpoints against bursts inside a minute.
// It is independent of the daily usage quotas: a user can be under quota
// and still be throttled here.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultCapacity = 30

type bucket struct {
	tokens  float64
	updated time.Time
}

// Limiter is a continuous-refill token bucket per identity key (user id
// when authenticated, caller IP otherwise). Buckets refill at
// capacity/60 tokens per second, capped at capacity. All bucket
// read-modify-writes happen under one mutex so two concurrent calls for
// the same key can never both spend the last token.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	now      func() time.Time
}

func NewLimiter(capacityPerMinute int) *Limiter {
	if capacityPerMinute <= 0 {
		capacityPerMinute = defaultCapacity
	}
	return &Limiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(capacityPerMinute),
		now:      time.Now,
	}
}

// Allow spends one token for the key, refilling first. The first call for
// a key always succeeds and leaves capacity-1 tokens behind.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.capacity - 1, updated: now}
		return true
	}
	elapsed := now.Sub(b.updated).Seconds()
	b.tokens += elapsed * l.capacity / 60
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
	b.updated = now
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}

// Middleware throttles a route. The identity key is the authenticated
// user id when a previous middleware stored one, else the client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString("identity_key")
		if key == "" {
			key = clientIP(c.Request)
		}
		if !l.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, slow down"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
