package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	usagedomain "github.com/smallbiznis/creditcore/internal/usage/domain"
)

func (s *Server) GetCredits(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (s *Server) ListTransactions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	pageSize, err := parseOptionalInt(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}
	req := ledgerdomain.ListTransactionsRequest{
		UserID:    userID,
		PageToken: c.Query("page_token"),
	}
	if pageSize != nil {
		req.PageSize = int32(*pageSize)
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListUsage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	start, err := parseOptionalTime(c.Query("startDate"), false)
	if err != nil {
		AbortWithError(c, newValidationError("startDate", "invalid_start_date", "invalid startDate"))
		return
	}
	end, err := parseOptionalTime(c.Query("endDate"), true)
	if err != nil {
		AbortWithError(c, newValidationError("endDate", "invalid_end_date", "invalid endDate"))
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	req := usagedomain.ListUsageRequest{
		UserID: userID,
		Start:  start,
		End:    end,
	}
	if limit != nil {
		req.Limit = *limit
	}

	records, err := s.usageSvc.ListUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"usage": records})
}
