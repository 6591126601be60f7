package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ortaieb/image-checker/internal/metrics"
	"github.com/ortaieb/image-checker/internal/ratelimit"
	"github.com/ortaieb/image-checker/pkg/config"
)

// RateLimitSubmit throttles validation submissions per client address.
func RateLimitSubmit(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitClient(lim, "ingress", "validate", cfg.RateLimit.Submit)
}

// RateLimitRead throttles status and result polling per client address.
func RateLimitRead(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitClient(lim, "ingress", "read", cfg.RateLimit.Read)
}

func rateLimitClient(lim ratelimit.Limiter, scope string, operation string, bcfg config.RateLimitBucketConfig) gin.HandlerFunc {
	bucket := ratelimit.Bucket{RequestsPerMinute: bcfg.RequestsPerMinute, BurstSize: bcfg.BurstSize}
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), scope+":"+operation, c.ClientIP(), bucket)
		if err != nil {
			// Fail open to avoid turning Redis hiccups into outages.
			slog.Default().Warn("rate limit check failed", "scope", scope, "op", operation, "err", err)
			c.Next()
			return
		}
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, operation).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"scope":             scope,
			"operation":         operation,
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}
