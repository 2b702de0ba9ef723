package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/tulsi/internal/models"
)

// amountTolerance is one minor currency unit; the recomputed total and a
// client-supplied cross-check must agree within it.
const amountTolerance = 0.01

// CheckoutUser identifies the buyer.
type CheckoutUser struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhoneNumber string `json:"phoneNumber"`
}

// CheckoutCartItem is one storefront cart entry.
type CheckoutCartItem struct {
	ID       string  `json:"id"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// CheckoutRequest is the order-create input.
type CheckoutRequest struct {
	Cart   []CheckoutCartItem `json:"cart"`
	User   CheckoutUser       `json:"user"`
	Amount float64            `json:"amount"`
}

// CheckoutResult is returned to the storefront to open the hosted checkout.
type CheckoutResult struct {
	OrderID          string  `json:"order_id"`
	PaymentSessionID string  `json:"payment_session_id"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
}

// CheckoutService builds payment orders: snapshot, pending order row, remote
// payment session.
type CheckoutService struct {
	orders     OrderStore
	snaps      SnapshotStore
	gateway    Gateway
	webhookURL string
}

func NewCheckoutService(orders OrderStore, snaps SnapshotStore, gateway Gateway, webhookURL string) *CheckoutService {
	return &CheckoutService{
		orders:     orders,
		snaps:      snaps,
		gateway:    gateway,
		webhookURL: webhookURL,
	}
}

// CreateOrder validates the cart, recomputes the total server-side, persists
// the snapshot and the pending order, and opens a gateway payment session.
// The snapshot is written before the order row so a webhook that observes the
// order can rely on the snapshot being visible too.
func (s *CheckoutService) CreateOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if strings.TrimSpace(req.User.UID) == "" || strings.TrimSpace(req.User.Email) == "" {
		return nil, &ValidationError{Msg: "user uid and email are required"}
	}
	if len(req.Cart) == 0 {
		return nil, &ValidationError{Msg: "cart is empty"}
	}
	for _, item := range req.Cart {
		if item.ID == "" {
			return nil, &ValidationError{Msg: "cart item id is required"}
		}
		if item.Price <= 0 || item.Quantity <= 0 {
			return nil, &ValidationError{Msg: fmt.Sprintf("cart item %s has non-positive price or quantity", item.ID)}
		}
	}

	// The amount is authoritative server-side. A client-supplied amount is
	// only cross-checked so a stale cart fails fast instead of at the gateway.
	amount := computeCartTotal(req.Cart)
	if req.Amount != 0 && math.Abs(req.Amount-amount) > amountTolerance {
		return nil, &ValidationError{Msg: fmt.Sprintf("amount mismatch: cart totals %.2f", amount)}
	}

	orderID := generateOrderID()

	cart, err := json.Marshal(req.Cart)
	if err != nil {
		return nil, fmt.Errorf("marshal cart: %w", err)
	}

	if err := s.snaps.CreateSnapshot(ctx, &models.PendingOrder{
		OrderID:   orderID,
		UserUID:   req.User.UID,
		UserEmail: req.User.Email,
		UserName:  req.User.DisplayName,
		UserPhone: req.User.PhoneNumber,
		Cart:      cart,
		Amount:    amount,
	}); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	if _, err := s.orders.InsertOrder(ctx, &models.Order{
		OrderID:   orderID,
		UserUID:   req.User.UID,
		UserEmail: req.User.Email,
		Status:    models.StatusPending,
		Amount:    amount,
		Currency:  models.CurrencyINR,
	}); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	sessionID, err := s.gateway.CreateOrderSession(ctx, SessionRequest{
		OrderID:       orderID,
		Amount:        amount,
		Currency:      models.CurrencyINR,
		CustomerID:    req.User.UID,
		CustomerEmail: req.User.Email,
		CustomerPhone: req.User.PhoneNumber,
		CustomerName:  req.User.DisplayName,
		NotifyURL:     s.webhookURL,
	})
	if err != nil {
		// The pending row and snapshot stay behind; the sweep or a later
		// retry can still pick the order up, and stale ones are harmless.
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	return &CheckoutResult{
		OrderID:          orderID,
		PaymentSessionID: sessionID,
		Amount:           amount,
		Currency:         models.CurrencyINR,
	}, nil
}

func computeCartTotal(cart []CheckoutCartItem) float64 {
	var total float64
	for _, item := range cart {
		total += item.Price * float64(item.Quantity)
	}
	return math.Round(total*100) / 100
}

// generateOrderID builds a process-unique order id with a millisecond
// timestamp component.
func generateOrderID() string {
	return fmt.Sprintf("order_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
