// Package mpesa implements the Safaricom Daraja STK push flow: the customer
// approves the charge on their phone and the order is polled with an STK
// query.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/creditcore/internal/payment/domain"
)

const (
	Provider = "mpesa"

	CredentialConsumerKey    = "consumer_key"
	CredentialConsumerSecret = "consumer_secret"
	CredentialShortCode      = "short_code"
	CredentialPasskey        = "passkey"
	CredentialCallbackURL    = "callback_url"

	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	currencyKES         = "KES"
	maxAccountReference = 12
	tokenExpiryMargin   = time.Minute
)

var eat = time.FixedZone("EAT", 3*60*60)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return Provider
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.GatewayAdapter, error) {
	a := &Adapter{
		consumerKey:    cfg.Credential(CredentialConsumerKey),
		consumerSecret: cfg.Credential(CredentialConsumerSecret),
		shortCode:      cfg.Credential(CredentialShortCode),
		passkey:        cfg.Credential(CredentialPasskey),
		callbackURL:    cfg.Credential(CredentialCallbackURL),
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:         cfg.HTTPClient,
		now:            time.Now,
	}
	if a.consumerKey == "" || a.consumerSecret == "" || a.shortCode == "" || a.passkey == "" || a.callbackURL == "" {
		return nil, domain.ErrInvalidConfig
	}
	if a.baseURL == "" {
		a.baseURL = sandboxBaseURL
		if strings.EqualFold(strings.TrimSpace(cfg.Environment), "production") {
			a.baseURL = productionBaseURL
		}
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 30 * time.Second}
	}
	return a, nil
}

type Adapter struct {
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	callbackURL    string
	baseURL        string
	client         *http.Client
	now            func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode string `json:"ResponseCode"`
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (a *Adapter) Provider() string {
	return Provider
}

func (a *Adapter) RequiredMetadata() []string {
	return []string{domain.MetadataPhone}
}

func (a *Adapter) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (*domain.GatewayOrder, error) {
	if !strings.EqualFold(req.Currency, currencyKES) {
		return nil, domain.NewValidationError("currency", "mpesa only accepts KES")
	}
	if req.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	phone := NormalizePhone(req.Customer.Phone)
	if phone == "" {
		return nil, domain.NewValidationError(domain.MetadataPhone, "is required")
	}

	password, timestamp := a.password()
	body := stkPushRequest{
		BusinessShortCode: a.shortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            phone,
		PartyB:            a.shortCode,
		PhoneNumber:       phone,
		CallBackURL:       a.callbackURL,
		AccountReference:  accountReference(req.OrderRef),
		TransactionDesc:   "Credit purchase",
	}

	raw, status, err := a.post(ctx, "create_order", "/mpesa/stkpush/v1/processrequest", body)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, a.responseError("create_order", status, raw)
	}
	var resp stkPushResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode stk push: %w", err)
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, &domain.GatewayError{
			Provider:   Provider,
			Operation:  "create_order",
			StatusCode: http.StatusBadRequest,
			Code:       resp.ResponseCode,
			Message:    resp.ResponseDescription,
		}
	}

	return &domain.GatewayOrder{
		ProviderOrderID: resp.CheckoutRequestID,
		ClientPayload: map[string]any{
			"checkoutRequestId": resp.CheckoutRequestID,
			"customerMessage":   resp.CustomerMessage,
		},
		Raw: raw,
	}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, providerOrderID string) (domain.GatewayStatus, error) {
	providerOrderID = strings.TrimSpace(providerOrderID)
	if providerOrderID == "" {
		return "", domain.NewValidationError("providerOrderId", "is required")
	}
	password, timestamp := a.password()
	raw, status, err := a.post(ctx, "check_status", "/mpesa/stkpushquery/v1/query", stkQueryRequest{
		BusinessShortCode: a.shortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: providerOrderID,
	})
	if err != nil {
		return "", err
	}
	if status >= http.StatusBadRequest {
		var errResp errorResponse
		_ = json.Unmarshal(raw, &errResp)
		// Daraja answers queries for in-flight pushes with this error.
		if errResp.ErrorCode == "500.001.1001" {
			return domain.GatewayStatusPending, nil
		}
		return "", a.responseError("check_status", status, raw)
	}

	var resp stkQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode stk query: %w", err)
	}
	return MapResultCode(resp.ResultCode), nil
}

// MapResultCode maps an STK query ResultCode. 0 is success; 4999 means the
// customer has not answered yet.
func MapResultCode(code string) domain.GatewayStatus {
	switch strings.TrimSpace(code) {
	case "0":
		return domain.GatewayStatusPaid
	case "", "4999":
		return domain.GatewayStatusPending
	default:
		return domain.GatewayStatusFailed
	}
}

// NormalizePhone converts local and international forms to the 2547XXXXXXXX
// shape Daraja expects.
func NormalizePhone(phone string) string {
	phone = strings.NewReplacer(" ", "", "-", "", "+", "").Replace(strings.TrimSpace(phone))
	if strings.HasPrefix(phone, "0") && len(phone) == 10 {
		phone = "254" + phone[1:]
	}
	if _, err := strconv.ParseUint(phone, 10, 64); err != nil {
		return ""
	}
	return phone
}

func accountReference(orderRef string) string {
	ref := strings.TrimPrefix(orderRef, "order_")
	if len(ref) > maxAccountReference {
		ref = ref[len(ref)-maxAccountReference:]
	}
	return ref
}

func (a *Adapter) password() (string, string) {
	timestamp := a.now().In(eat).Format("20060102150405")
	return base64.StdEncoding.EncodeToString([]byte(a.shortCode + a.passkey + timestamp)), timestamp
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && a.now().Before(a.tokenExpiry) {
		return a.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.consumerKey, a.consumerSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		gatewayErr := &domain.GatewayError{Provider: Provider, Operation: "oauth", StatusCode: resp.StatusCode, Message: "mpesa_auth_failed"}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidConfig, gatewayErr)
		}
		return "", gatewayErr
	}

	var token tokenResponse
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", fmt.Errorf("decode mpesa token: %w", err)
	}
	if token.AccessToken == "" {
		return "", &domain.GatewayError{Provider: Provider, Operation: "oauth", StatusCode: resp.StatusCode, Message: "mpesa_token_missing"}
	}
	ttl, err := strconv.Atoi(strings.TrimSpace(token.ExpiresIn))
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	a.token = token.AccessToken
	a.tokenExpiry = a.now().Add(time.Duration(ttl)*time.Second - tokenExpiryMargin)
	return a.token, nil
}

func (a *Adapter) post(ctx context.Context, operation, path string, payload any) ([]byte, int, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("mpesa %s login: %w", operation, err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		a.mu.Lock()
		a.token = ""
		a.mu.Unlock()
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return raw, resp.StatusCode, nil
}

func (a *Adapter) responseError(operation string, status int, raw []byte) error {
	var errResp errorResponse
	_ = json.Unmarshal(raw, &errResp)
	gatewayErr := &domain.GatewayError{
		Provider:   Provider,
		Operation:  operation,
		StatusCode: status,
		Code:       errResp.ErrorCode,
		Message:    errResp.ErrorMessage,
	}
	if status == http.StatusBadRequest {
		return fmt.Errorf("%w: %v", domain.ErrValidation, gatewayErr)
	}
	return gatewayErr
}
