package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter stores rate limiters for each client
type RateLimiter struct {
	clients map[string]*rate.Limiter
	mu      sync.RWMutex

	// Rate limit configuration
	requestsPerSecond rate.Limit
	burst             int

	// Cleanup ticker
	ticker *time.Ticker
	done   chan bool
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients:           make(map[string]*rate.Limiter),
		requestsPerSecond: rate.Limit(requestsPerSecond),
		burst:             burst,
		ticker:            time.NewTicker(5 * time.Minute),
		done:              make(chan bool),
	}

	// Start cleanup goroutine
	go rl.cleanupClients()

	return rl
}

// cleanupClients removes old limiters to prevent memory leaks
func (rl *RateLimiter) cleanupClients() {
	for {
		select {
		case <-rl.ticker.C:
			rl.mu.Lock()
			if len(rl.clients) > 10000 {
				rl.clients = make(map[string]*rate.Limiter)
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// Stop stops the rate limiter cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.ticker.Stop()
	rl.done <- true
}

// getLimiter returns the rate limiter for a client
func (rl *RateLimiter) getLimiter(clientID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.clients[clientID]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		limiter = rate.NewLimiter(rl.requestsPerSecond, rl.burst)
		rl.clients[clientID] = limiter
		rl.mu.Unlock()
	}

	return limiter
}

// RateLimit returns a middleware that rate limits requests. Authenticated
// requests are limited per user, anonymous ones per client IP.
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()
		if userID, ok := c.Get("user_id"); ok {
			if s, ok := userID.(string); ok && s != "" {
				clientID = s
			}
		}

		limiter := rl.getLimiter(clientID)

		if !limiter.Allow() {
			AbortWithError(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
				"Too many requests. Please try again later.")
			return
		}

		c.Next()
	}
}
