package domain

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

type GatewayStatus string

const (
	GatewayStatusPaid    GatewayStatus = "PAID"
	GatewayStatusFailed  GatewayStatus = "FAILED"
	GatewayStatusPending GatewayStatus = "PENDING"
)

const MetadataPhone = "phone"

type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type GatewayOrderRequest struct {
	OrderRef string
	Amount   int64
	Currency string
	Customer Customer
	Metadata map[string]string
}

type GatewayOrder struct {
	ProviderOrderID string
	// ClientPayload is handed to the client to complete payment on the
	// provider's hosted flow.
	ClientPayload map[string]any
	// Raw is the provider response stored verbatim as provider data.
	Raw json.RawMessage
}

//go:generate mockgen -destination=../mocks/gateway_adapter_mock.go -package=mocks . GatewayAdapter

// GatewayAdapter is the capability every payment provider implements.
type GatewayAdapter interface {
	Provider() string
	RequiredMetadata() []string
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error)
	CheckStatus(ctx context.Context, providerOrderID string) (GatewayStatus, error)
}

type AdapterConfig struct {
	Environment string
	BaseURL     string
	Credentials map[string]string
	HTTPClient  *http.Client
}

func (c AdapterConfig) Credential(key string) string {
	if c.Credentials == nil {
		return ""
	}
	return strings.TrimSpace(c.Credentials[key])
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (GatewayAdapter, error)
}

// GatewayResolver returns the configured adapter for a provider name.
type GatewayResolver interface {
	Resolve(provider string) (GatewayAdapter, error)
	DefaultProvider() string
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

// IsPhoneNumber accepts E.164-like numbers with optional leading plus.
func IsPhoneNumber(value string) bool {
	value = strings.ReplaceAll(strings.TrimSpace(value), " ", "")
	return phonePattern.MatchString(value)
}
