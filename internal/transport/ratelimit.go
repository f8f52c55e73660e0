package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ruvnet/collabsync/internal/config"
)

// perAddressLimiter hands out a token-bucket limiter per remote address,
// dropping each entry ten minutes after it is created, whether or not
// the address is still active, so the map does not grow without bound
// across the lifetime of the process.
type perAddressLimiter struct {
	mu       sync.Mutex
	cfg      config.RateLimitConfig
	limiters map[string]*rate.Limiter
}

func newPerAddressLimiter(cfg config.RateLimitConfig) *perAddressLimiter {
	return &perAddressLimiter{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *perAddressLimiter) allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerMinute)/60, l.cfg.Burst)
		l.limiters[key] = limiter
		go func() {
			time.Sleep(10 * time.Minute)
			l.mu.Lock()
			delete(l.limiters, key)
			l.mu.Unlock()
		}()
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// rateLimitUpgrades rejects upgrade attempts once a remote address
// exceeds cfg's rate, before any auth or document lookup work runs.
func rateLimitUpgrades(cfg config.RateLimitConfig) gin.HandlerFunc {
	l := newPerAddressLimiter(cfg)
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RateLimited",
				"message": "too many upgrade attempts, retry after backing off",
			})
			return
		}
		c.Next()
	}
}
