package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testLimiter(capacity int) (*Limiter, func(d time.Duration)) {
	l := NewLimiter(capacity)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, func(d time.Duration) { now = now.Add(d) }
}

func TestAllow_firstCallAlwaysSucceeds(t *testing.T) {
	l, _ := testLimiter(1)
	if !l.Allow("u1") {
		t.Error("first call denied")
	}
}

func TestAllow_burstExactness(t *testing.T) {
	const capacity = 5
	l, _ := testLimiter(capacity)

	// C instantaneous calls succeed, the C+1th is denied.
	for i := 0; i < capacity; i++ {
		if !l.Allow("u1") {
			t.Fatalf("call %d denied inside capacity", i+1)
		}
	}
	if l.Allow("u1") {
		t.Error("call beyond capacity allowed")
	}
}

func TestAllow_liveness(t *testing.T) {
	const capacity = 6 // refills one token every 10s
	l, advance := testLimiter(capacity)

	for i := 0; i < capacity; i++ {
		l.Allow("u1")
	}
	// A caller pacing itself at >= 60/C seconds between calls succeeds
	// indefinitely.
	for i := 0; i < 50; i++ {
		advance(10 * time.Second)
		if !l.Allow("u1") {
			t.Fatalf("paced call %d denied", i+1)
		}
	}
}

func TestAllow_refillCapped(t *testing.T) {
	l, advance := testLimiter(5)
	l.Allow("u1")
	advance(time.Hour)
	// A long idle period refills to capacity, never beyond.
	for i := 0; i < 5; i++ {
		if !l.Allow("u1") {
			t.Fatalf("call %d denied after refill", i+1)
		}
	}
	if l.Allow("u1") {
		t.Error("idle time granted more than capacity")
	}
}

func TestAllow_keysAreIndependent(t *testing.T) {
	l, _ := testLimiter(1)
	if !l.Allow("u1") {
		t.Fatal("u1 first call denied")
	}
	if l.Allow("u1") {
		t.Fatal("u1 second call allowed")
	}
	if !l.Allow("u2") {
		t.Error("u2 throttled by u1's bucket")
	}
}

func TestAllow_concurrentSameKey(t *testing.T) {
	const capacity = 10
	l, _ := testLimiter(capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("u1") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != capacity {
		t.Errorf("concurrent burst allowed %d calls, want %d", allowed, capacity)
	}
}

func TestMiddleware_throttlesByIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := testLimiter(2)
	r := gin.New()
	r.GET("/ping", l.Middleware(), func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("calls within capacity got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("burst call got %d, want 429", codes[2])
	}

	// A different client IP has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("independent IP got %d", w.Code)
	}
}

func TestClientIP_forwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Errorf("clientIP = %q", got)
	}
}
