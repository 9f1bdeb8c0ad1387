package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Middleware rejects requests over the per-key budget with 429. keyFn
// derives the bucket key from the request; a nil keyFn buckets by client
// IP.
func Middleware(l *Limiter, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ""
		if keyFn != nil {
			key = keyFn(c)
		}
		if key == "" {
			key = c.ClientIP()
		}
		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please slow down",
			})
			return
		}
		c.Next()
	}
}
