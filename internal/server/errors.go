package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditcore/internal/events"
	featuredomain "github.com/smallbiznis/creditcore/internal/feature/domain"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/creditcore/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/creditcore/internal/pricing/domain"
	usagedomain "github.com/smallbiznis/creditcore/internal/usage/domain"
	userdomain "github.com/smallbiznis/creditcore/internal/user/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Errors    []ValidationError `json:"errors,omitempty"`
	Required  *int64            `json:"required,omitempty"`
	Available *int64            `json:"available,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var pErr *paymentdomain.ValidationError
	if errors.As(err, &pErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: pErr.Field, Code: "invalid_" + pErr.Field, Message: pErr.Reason},
			},
		}
	}

	if insufficient, ok := ledgerdomain.AsInsufficientCredits(err); ok {
		required, available := insufficient.Required, insufficient.Available
		return http.StatusPaymentRequired, errorPayload{
			Type:      "insufficient_credits",
			Message:   insufficient.Error(),
			Required:  &required,
			Available: &available,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
		}
	case errors.Is(err, paymentdomain.ErrOrderAlreadyFinalized),
		errors.Is(err, ledgerdomain.ErrReservationClosed),
		errors.Is(err, userdomain.ErrEmailTaken):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrPaymentNotYetCompleted):
		return http.StatusAccepted, errorPayload{
			Type:    "payment_pending",
			Message: "payment not yet completed",
		}
	case errors.Is(err, paymentdomain.ErrPaymentFailed):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "payment_failed",
			Message: "payment failed",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Code: err.Error(), Message: "invalid value"},
			},
		}
	case errors.Is(err, paymentdomain.ErrGatewayUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_unavailable",
			Message: "payment gateway unavailable",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, events.ErrBusFull),
		errors.Is(err, events.ErrBusStopped):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 && payload.Errors[0].Code != "" {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrValidation),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, pricingdomain.ErrInvalidAmount),
		errors.Is(err, pricingdomain.ErrUnsupportedCurrency),
		errors.Is(err, pricingdomain.ErrPricingNotSet),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, userdomain.ErrInvalidUserID),
		errors.Is(err, userdomain.ErrInvalidEmail),
		errors.Is(err, ledgerdomain.ErrInvalidPageToken),
		errors.Is(err, ledgerdomain.ErrSettlementExceedsHold),
		errors.Is(err, usagedomain.ErrInvalidDateRange),
		errors.Is(err, usagedomain.ErrFeatureMismatch),
		errors.Is(err, featuredomain.ErrUnknownFeature),
		errors.Is(err, featuredomain.ErrInvalidContext),
		errors.Is(err, events.ErrInvalidEvent):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, paymentdomain.ErrOrderNotFound),
		errors.Is(err, pricingdomain.ErrPackNotFound),
		errors.Is(err, ledgerdomain.ErrReservationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
