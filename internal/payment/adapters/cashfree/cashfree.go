package cashfree

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/creditcore/internal/payment/domain"
)

const (
	Provider = "cashfree"

	CredentialClientID     = "client_id"
	CredentialClientSecret = "client_secret"
	CredentialAPIVersion   = "api_version"
	CredentialReturnURL    = "return_url"

	sandboxBaseURL    = "https://sandbox.cashfree.com/pg"
	productionBaseURL = "https://api.cashfree.com/pg"
	defaultAPIVersion = "2023-08-01"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return Provider
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.GatewayAdapter, error) {
	clientID := cfg.Credential(CredentialClientID)
	clientSecret := cfg.Credential(CredentialClientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, domain.ErrInvalidConfig
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = sandboxBaseURL
		if strings.EqualFold(strings.TrimSpace(cfg.Environment), "production") {
			baseURL = productionBaseURL
		}
	}
	apiVersion := cfg.Credential(CredentialAPIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	return &Adapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		apiVersion:   apiVersion,
		returnURL:    cfg.Credential(CredentialReturnURL),
		baseURL:      baseURL,
		client:       client,
	}, nil
}

type Adapter struct {
	clientID     string
	clientSecret string
	apiVersion   string
	returnURL    string
	baseURL      string
	client       *http.Client
}

type customerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
}

type createOrderRequest struct {
	OrderID         string            `json:"order_id"`
	OrderAmount     float64           `json:"order_amount"`
	OrderCurrency   string            `json:"order_currency"`
	CustomerDetails customerDetails   `json:"customer_details"`
	OrderMeta       *orderMeta        `json:"order_meta,omitempty"`
	OrderTags       map[string]string `json:"order_tags,omitempty"`
}

type orderResponse struct {
	OrderID          string `json:"order_id"`
	OrderStatus      string `json:"order_status"`
	PaymentSessionID string `json:"payment_session_id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (a *Adapter) Provider() string {
	return Provider
}

func (a *Adapter) RequiredMetadata() []string {
	return []string{domain.MetadataPhone}
}

func (a *Adapter) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (*domain.GatewayOrder, error) {
	if strings.TrimSpace(req.OrderRef) == "" {
		return nil, domain.NewValidationError("orderRef", "is required")
	}
	if req.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if req.Customer.Phone == "" {
		return nil, domain.NewValidationError(domain.MetadataPhone, "is required")
	}

	body := createOrderRequest{
		OrderID:       req.OrderRef,
		OrderAmount:   float64(req.Amount),
		OrderCurrency: strings.ToUpper(req.Currency),
		CustomerDetails: customerDetails{
			CustomerID:    req.Customer.ID,
			CustomerName:  req.Customer.Name,
			CustomerEmail: req.Customer.Email,
			CustomerPhone: req.Customer.Phone,
		},
	}
	if a.returnURL != "" {
		body.OrderMeta = &orderMeta{ReturnURL: a.returnURL}
	}
	if packID := req.Metadata["packId"]; packID != "" {
		body.OrderTags = map[string]string{"pack_id": packID}
	}

	raw, err := a.do(ctx, "create_order", http.MethodPost, "/orders", body)
	if err != nil {
		return nil, err
	}
	var order orderResponse
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode cashfree order: %w", err)
	}
	if order.OrderID == "" || order.PaymentSessionID == "" {
		return nil, &domain.GatewayError{Provider: Provider, Operation: "create_order", StatusCode: http.StatusOK, Message: "cashfree_response_invalid"}
	}

	return &domain.GatewayOrder{
		ProviderOrderID: order.OrderID,
		ClientPayload: map[string]any{
			"paymentSessionId": order.PaymentSessionID,
		},
		Raw: raw,
	}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, providerOrderID string) (domain.GatewayStatus, error) {
	providerOrderID = strings.TrimSpace(providerOrderID)
	if providerOrderID == "" {
		return "", domain.NewValidationError("providerOrderId", "is required")
	}
	raw, err := a.do(ctx, "check_status", http.MethodGet, "/orders/"+url.PathEscape(providerOrderID), nil)
	if err != nil {
		return "", err
	}
	var order orderResponse
	if err := json.Unmarshal(raw, &order); err != nil {
		return "", fmt.Errorf("decode cashfree order: %w", err)
	}
	return MapOrderStatus(order.OrderStatus), nil
}

// MapOrderStatus folds Cashfree order states into the three gateway outcomes.
func MapOrderStatus(status string) domain.GatewayStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PAID":
		return domain.GatewayStatusPaid
	case "EXPIRED", "TERMINATED", "TERMINATION_REQUESTED", "FAILED":
		return domain.GatewayStatusFailed
	default:
		return domain.GatewayStatusPending
	}
}

func (a *Adapter) do(ctx context.Context, operation, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-client-id", a.clientID)
	req.Header.Set("x-client-secret", a.clientSecret)
	req.Header.Set("x-api-version", a.apiVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var cfErr errorResponse
		_ = json.Unmarshal(raw, &cfErr)
		gatewayErr := &domain.GatewayError{
			Provider:   Provider,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Code:       cfErr.Code,
			Message:    cfErr.Message,
		}
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, gatewayErr)
		}
		return nil, gatewayErr
	}
	return raw, nil
}
