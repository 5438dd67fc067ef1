package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/creditcore/internal/observability/context"
	"github.com/smallbiznis/creditcore/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	// HeaderUserID is set by the upstream auth gateway after it verifies the caller.
	HeaderUserID     = "X-User-ID"
	contextUserIDKey = "user_id"
)

func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), userID.String()))
		c.Next()
	}
}

func currentUserID(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := value.(snowflake.ID)
	return userID, ok && userID != 0
}

// PurchaseRateLimit caps order creation per user. It must run after UserRequired.
func (s *Server) PurchaseRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.purchaseLimiter == nil {
			c.Next()
			return
		}
		userID, ok := currentUserID(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		res := s.purchaseLimiter.Allow(c.Request.Context(), userID)
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.FromContext(c.Request.Context()).Warn("purchase rate limit exceeded",
				zap.String("endpoint", c.FullPath()),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
