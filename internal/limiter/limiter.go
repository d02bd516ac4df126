package limiter

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/brittybidari/FashionRecSys/internal/metrics"
)

// Config holds token bucket settings for inbound requests.
type Config struct {
	RPS   int `envconfig:"RATE_LIMIT_RPS" default:"0"`   // 0 means disabled
	Burst int `envconfig:"RATE_LIMIT_BURST" default:"0"` // 0 means use RPS
}

// RateLimiter is a process-wide token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
	enabled bool
}

func NewRateLimiter(cfg Config) *RateLimiter {
	if cfg.RPS <= 0 {
		return &RateLimiter{enabled: false}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RPS
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst),
		enabled: true,
	}
}

// Enabled reports whether requests are limited at all.
func (l *RateLimiter) Enabled() bool { return l.enabled }

// Allow takes a token without waiting.
func (l *RateLimiter) Allow() bool {
	if !l.enabled {
		return true
	}
	if l.limiter.Allow() {
		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		return true
	}
	metrics.RateLimitRequestsTotal.WithLabelValues("throttled").Inc()
	return false
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
