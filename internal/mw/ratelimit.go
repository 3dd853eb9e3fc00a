package mw

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// perIPLimiters lazily allocates one token bucket per client address.
// Device agents and operator dashboards share the same budget; the limit is
// sized so a polling agent never trips it.
type perIPLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newPerIPLimiters(limit rate.Limit, burst int) *perIPLimiters {
	return &perIPLimiters{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (p *perIPLimiters) get(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, ok := p.limiters[ip]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(p.limit, p.burst)
	p.limiters[ip] = limiter
	return limiter
}

// RateLimiter rejects requests over the per-IP budget with a 429.
func RateLimiter(limit rate.Limit, burst int) gin.HandlerFunc {
	limiters := newPerIPLimiters(limit, burst)
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
