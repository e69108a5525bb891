package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atoll-registry/atoll/internal/ratelimit"
	"github.com/atoll-registry/atoll/pkg/config"
	"github.com/atoll-registry/atoll/pkg/types"
)

// RateLimit charges cost tokens against the caller's bucket before the
// handler runs. It mounts after principal resolution so authenticated
// callers bill their own budget; anything that reaches the limiter
// without a principal is keyed by source address. Health probes never
// mount this handler.
func RateLimit(limiter *ratelimit.Limiter, cfg *config.RateLimitConfig, cost float64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		key := "anon:" + c.ClientIP()
		if principal, ok := PrincipalFromContext(c); ok {
			key = principal.ID
		}

		allowed, res := limiter.Allow(key, cost)
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.Reset, 10))

		if !allowed {
			retry := res.Reset - time.Now().Unix()
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retry, 10))
			rerr := types.ErrRateLimited(res.Limit, res.Remaining, res.Reset)
			c.AbortWithStatusJSON(rerr.HTTPStatus(), rerr.Body())
			return
		}

		c.Next()
	}
}
