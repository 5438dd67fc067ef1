package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	featuredomain "github.com/smallbiznis/creditcore/internal/feature/domain"
	obscontext "github.com/smallbiznis/creditcore/internal/observability/context"
	usagedomain "github.com/smallbiznis/creditcore/internal/usage/domain"
)

type checkUsageRequest struct {
	FeatureKey string         `json:"featureKey"`
	Context    map[string]any `json:"context"`
}

func (s *Server) ListFeatures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"features": s.features.Features()})
}

func (s *Server) CheckUsage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req checkUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	key := strings.TrimSpace(req.FeatureKey)
	if key == "" {
		AbortWithError(c, newValidationError("featureKey", "required", "featureKey is required"))
		return
	}

	ctx := obscontext.WithFeatureKey(c.Request.Context(), key)
	c.Request = c.Request.WithContext(ctx)

	result, err := s.usageSvc.Check(ctx, usagedomain.CheckRequest{
		UserID:     userID,
		FeatureKey: featuredomain.FeatureKey(key),
		Context:    req.Context,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
