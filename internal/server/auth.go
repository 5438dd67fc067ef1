package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditcore/internal/events"
)

// PublishLoginEvent records a login for the caller. Restoration runs
// asynchronously off the event.
func (s *Server) PublishLoginEvent(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if s.publisher == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	ctx := c.Request.Context()
	if _, err := s.userSvc.FindByID(ctx, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.publisher.PublishLogin(ctx, events.LoginEvent{
		UserID:     userID,
		OccurredAt: s.now(),
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
