package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// RateLimiter implements a token bucket per client. Authenticated students
// are keyed by ID so a shared school NAT does not starve a classroom.
type RateLimiter struct {
	clock clockwork.Clock

	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // Tokens per interval
	interval time.Duration // Refill interval
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 120 beacons per minute).
func NewRateLimiter(rate int, interval time.Duration, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		clock:    clock,
		visitors: make(map[string]*visitor),
		rate:     rate,
		interval: interval,
	}
}

// Run evicts stale visitors every minute until stop is closed.
func (rl *RateLimiter) Run(stop <-chan struct{}) {
	ticker := rl.clock.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			rl.cleanup()
		}
	}
}

// Middleware returns a Gin middleware that rate-limits requests.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(visitorKey(c)) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

// Allow takes one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{tokens: rl.rate, lastSeen: now}
		rl.visitors[key] = v
	}

	// Refill tokens based on elapsed time.
	refill := int(now.Sub(v.lastSeen)/rl.interval) * rl.rate
	if refill > 0 {
		v.tokens += refill
		if v.tokens > rl.rate {
			v.tokens = rl.rate
		}
		v.lastSeen = now
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *RateLimiter) cleanup() {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > 3*rl.interval {
			delete(rl.visitors, key)
		}
	}
}

func visitorKey(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return "student:" + strconv.Itoa(claims.UserID)
	}
	return "ip:" + c.ClientIP()
}
