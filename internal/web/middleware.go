package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maypok86/otter/v2"
	"golang.org/x/time/rate"

	"tradein/internal/auth"
	appLog "tradein/internal/log"
)

const (
	limiterIdleTTL  = 10 * time.Minute
	maxLimiterCount = 100_000
)

// rateLimiter keeps one token bucket per client IP. Idle buckets expire.
type rateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *otter.Cache[string, *rate.Limiter]
}

func newRateLimiter(limit rate.Limit, burst int) *rateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limit: limit,
		burst: burst,
		limiters: otter.Must(&otter.Options[string, *rate.Limiter]{
			MaximumSize:      maxLimiterCount,
			ExpiryCalculator: otter.ExpiryAccessing[string, *rate.Limiter](limiterIdleTTL),
		}),
	}
}

func (rl *rateLimiter) get(ip string) *rate.Limiter {
	if l, ok := rl.limiters.GetIfPresent(ip); ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Set(ip, l)
	return l
}

func (rl *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.get(ip).Allow() {
			appLog.Warn("rate limit exceeded", "ip", ip, "path", c.Request.URL.Path)
			writeError(c, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}
		c.Next()
	}
}

// basicAuth checks HTTP Basic credentials against an argon2id hash.
func basicAuth(creds auth.Credentials) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, p, ok := c.Request.BasicAuth()
		if !ok || !creds.Check(u, p) {
			c.Header("WWW-Authenticate", `Basic realm="TradeIn", charset="UTF-8"`)
			writeError(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		appLog.Error("panic in handler", fmt.Errorf("%v", recovered), "path", c.Request.URL.Path)
		writeError(c, http.StatusInternalServerError, "internal error")
	})
}
