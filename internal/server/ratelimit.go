package server

import (
	"context"
	"math"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smajobb/marketplace/internal/ratelimit"
	"go.uber.org/zap"
)

type requestLimiter interface {
	Allow(ctx context.Context, userID snowflake.ID) (ratelimit.Result, error)
}

// RateLimited throttles the acting user. It must run after AuthRequired.
// A redis failure lets the request through.
func (s *Server) RateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		res, err := s.limiter.Allow(c.Request.Context(), userID)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.String("user_id", userID.String()), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
