package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/creditcore/internal/payment/domain"
)

type buyPackRequest struct {
	Currency string            `json:"currency"`
	Provider string            `json:"provider"`
	Metadata map[string]string `json:"metadata"`
}

type buyCustomRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Provider string            `json:"provider"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) ListCreditPacks(c *gin.Context) {
	c.JSON(http.StatusOK, s.catalog.ListPacks())
}

func (s *Server) BuyPack(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	packID := strings.TrimSpace(c.Param("packId"))
	if packID == "" {
		AbortWithError(c, newValidationError("packId", "required", "pack id is required"))
		return
	}

	var req buyPackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Currency) == "" {
		AbortWithError(c, newValidationError("currency", "required", "currency is required"))
		return
	}

	resp, err := s.paymentSvc.BuyPack(c.Request.Context(), paymentdomain.BuyPackRequest{
		UserID:   userID,
		PackID:   packID,
		Currency: req.Currency,
		Provider: req.Provider,
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) BuyCustom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req buyCustomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be positive"))
		return
	}
	if strings.TrimSpace(req.Currency) == "" {
		AbortWithError(c, newValidationError("currency", "required", "currency is required"))
		return
	}

	resp, err := s.paymentSvc.BuyCustom(c.Request.Context(), paymentdomain.BuyCustomRequest{
		UserID:   userID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Provider: req.Provider,
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) VerifyOrder(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	orderID, err := parseSnowflakeID(c.Param("orderId"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	if err := s.paymentSvc.VerifyAndCredit(c.Request.Context(), orderID, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (s *Server) GetOrder(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	orderID, err := parseSnowflakeID(c.Param("orderId"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	order, err := s.paymentSvc.GetOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}
