package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/sessionmap/pkg/response"
)

// RateLimiter allows a fixed number of requests per client in each window
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clients   map[string]*clientWindow
	lastSweep time.Time
	now       func() time.Time
}

type clientWindow struct {
	start time.Time
	count int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// Allow records a request from client. When the client is over its limit it
// returns false and the time until its window resets.
func (rl *RateLimiter) Allow(client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	w, ok := rl.clients[client]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.clients[client] = &clientWindow{start: now, count: 1}
		return true, 0
	}
	if w.count >= rl.limit {
		return false, w.start.Add(rl.window).Sub(now)
	}
	w.count++
	return true, 0
}

// sweep drops expired windows at most once per window
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	rl.lastSweep = now
	for client, w := range rl.clients {
		if now.Sub(w.start) >= rl.window {
			delete(rl.clients, client)
		}
	}
}

// RateLimit middleware limits requests per client IP
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	limiter := NewRateLimiter(limit, window)

	return func(c *gin.Context) {
		ok, retry := limiter.Allow(c.ClientIP())
		if !ok {
			response.TooManyRequests(c, retry)
			return
		}

		c.Next()
	}
}
