package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const cashfreeAPIVersion = "2023-08-01"

// Gateway is the remote payment service: session creation at checkout time
// and status polling for the verify/sweep fallback path.
type Gateway interface {
	CreateOrderSession(ctx context.Context, req SessionRequest) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (string, error)
	GetSuccessfulPayment(ctx context.Context, orderID string) (*RemotePayment, error)
}

// SessionRequest captures the inputs for creating a hosted payment session.
type SessionRequest struct {
	OrderID       string
	Amount        float64
	Currency      string
	CustomerID    string
	CustomerEmail string
	CustomerPhone string
	CustomerName  string
	NotifyURL     string
}

// RemotePayment is one payment attempt reported by the gateway.
type RemotePayment struct {
	PaymentID string
	Status    string
	Amount    float64
	Raw       []byte
}

// CashfreeService talks to the Cashfree PG API.
type CashfreeService struct {
	baseURL   string
	appID     string
	secretKey string
	client    *http.Client
}

func NewCashfreeService(baseURL, appID, secretKey string) *CashfreeService {
	return &CashfreeService{
		baseURL:   strings.TrimRight(baseURL, "/"),
		appID:     appID,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateOrderSession registers the order with the gateway and returns the
// payment session token the storefront opens checkout with.
func (s *CashfreeService) CreateOrderSession(ctx context.Context, req SessionRequest) (string, error) {
	payload := map[string]any{
		"order_id":       req.OrderID,
		"order_amount":   req.Amount,
		"order_currency": req.Currency,
		"customer_details": map[string]any{
			"customer_id":    req.CustomerID,
			"customer_email": req.CustomerEmail,
			"customer_phone": req.CustomerPhone,
			"customer_name":  req.CustomerName,
		},
		"order_meta": map[string]any{
			"notify_url": req.NotifyURL,
		},
	}

	body, err := s.do(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return "", err
	}

	var result struct {
		PaymentSessionID string `json:"payment_session_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("cashfree create order unmarshal: %w", err)
	}
	if result.PaymentSessionID == "" {
		return "", fmt.Errorf("cashfree create order: response missing payment_session_id, body: %s", string(body))
	}

	return result.PaymentSessionID, nil
}

// GetOrderStatus polls the gateway for the current order status token.
func (s *CashfreeService) GetOrderStatus(ctx context.Context, orderID string) (string, error) {
	body, err := s.do(ctx, http.MethodGet, "/orders/"+orderID, nil)
	if err != nil {
		return "", err
	}

	var result struct {
		OrderStatus string `json:"order_status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("cashfree order status unmarshal: %w", err)
	}
	return result.OrderStatus, nil
}

// GetSuccessfulPayment returns the successful payment attempt for the order,
// or an error when none has succeeded yet.
func (s *CashfreeService) GetSuccessfulPayment(ctx context.Context, orderID string) (*RemotePayment, error) {
	body, err := s.do(ctx, http.MethodGet, "/orders/"+orderID+"/payments", nil)
	if err != nil {
		return nil, err
	}

	var payments []struct {
		CfPaymentID   any     `json:"cf_payment_id"`
		PaymentStatus string  `json:"payment_status"`
		PaymentAmount float64 `json:"payment_amount"`
	}
	if err := json.Unmarshal(body, &payments); err != nil {
		return nil, fmt.Errorf("cashfree payments unmarshal: %w", err)
	}

	for _, p := range payments {
		if ClassifyStatus(p.PaymentStatus) != ClassSuccess {
			continue
		}
		raw, _ := json.Marshal(p)
		return &RemotePayment{
			PaymentID: stringifyID(p.CfPaymentID),
			Status:    p.PaymentStatus,
			Amount:    p.PaymentAmount,
			Raw:       raw,
		}, nil
	}

	return nil, fmt.Errorf("cashfree payments: no successful payment for order %s", orderID)
}

func (s *CashfreeService) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("cashfree request marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("cashfree request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-version", cashfreeAPIVersion)
	req.Header.Set("x-client-id", s.appID)
	req.Header.Set("x-client-secret", s.secretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cashfree request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cashfree %s %s: status %d, body: %s", method, path, resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
