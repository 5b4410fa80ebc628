package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"cashdrawer/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ── API rate limiter ──────────────────────────────────────────────────────────
// Token bucket per client IP. Entries unused for entryTTL are purged.

const (
	purgeInterval = 5 * time.Minute
	entryTTL      = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type IPRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rate    rate.Limit
	burst   int
}

// NewIPRateLimiter allows perMinute requests per IP with a burst of the same size.
func NewIPRateLimiter(perMinute int) *IPRateLimiter {
	if perMinute <= 0 {
		perMinute = 600
	}
	return &IPRateLimiter{
		entries: make(map[string]*limiterEntry),
		rate:    rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
	}
}

func (rl *IPRateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e, ok := rl.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.entries[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (rl *IPRateLimiter) purge(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, e := range rl.entries {
		if now.Sub(e.lastSeen) > entryTTL {
			delete(rl.entries, ip)
			n++
		}
	}
	return n
}

// Run purges stale entries until done is closed.
func (rl *IPRateLimiter) Run(done <-chan struct{}) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			if n := rl.purge(now); n > 0 {
				log.Debug().Int("purged", n).Msg("rate limiter entries purged")
			}
		}
	}
}

func (rl *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.burst))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				apierror.WithCode(apierror.CodeRateLimited, "Demasiadas solicitudes. Intente nuevamente en un momento."))
			return
		}
		c.Next()
	}
}
