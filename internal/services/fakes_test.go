package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/example/tulsi/internal/models"
)

// fakeStore is an in-memory stand-in for the gorm-backed stores. It mimics
// their conflict-detection semantics: insert-if-absent and guarded updates.
type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	items  map[string][]models.OrderItem
	snaps  map[string]*models.PendingOrder
	ledger map[string]*models.PaymentRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders: make(map[string]*models.Order),
		items:  make(map[string][]models.OrderItem),
		snaps:  make(map[string]*models.PendingOrder),
		ledger: make(map[string]*models.PaymentRecord),
	}
}

func (f *fakeStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (f *fakeStore) InsertOrder(ctx context.Context, order *models.Order) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[order.OrderID]; ok {
		return false, nil
	}
	copied := *order
	copied.CreatedAt = time.Now()
	f.orders[order.OrderID] = &copied
	return true, nil
}

func (f *fakeStore) UpdateOrderStatusIf(ctx context.Context, orderID, from string, updates map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok || order.Status != from {
		return false, nil
	}
	for key, value := range updates {
		switch key {
		case "status":
			order.Status = value.(string)
		case "payment_id":
			order.PaymentID = value.(string)
		case "paid_at":
			order.PaidAt = value.(*time.Time)
		}
	}
	return true, nil
}

func (f *fakeStore) CountItems(ctx context.Context, orderID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.items[orderID])), nil
}

func (f *fakeStore) InsertItems(ctx context.Context, items []models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		exists := false
		for _, existing := range f.items[item.OrderID] {
			if existing.ItemID == item.ItemID {
				exists = true
				break
			}
		}
		if !exists {
			f.items[item.OrderID] = append(f.items[item.OrderID], item)
		}
	}
	return nil
}

func (f *fakeStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.Order
	for _, order := range f.orders {
		if order.Status == models.StatusPending && order.CreatedAt.Before(cutoff) && len(result) < limit {
			result = append(result, *order)
		}
	}
	return result, nil
}

func (f *fakeStore) GetSnapshot(ctx context.Context, orderID string) (*models.PendingOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[orderID]
	if !ok {
		return nil, nil
	}
	copied := *snap
	return &copied, nil
}

func (f *fakeStore) CreateSnapshot(ctx context.Context, snap *models.PendingOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *snap
	f.snaps[snap.OrderID] = &copied
	return nil
}

func (f *fakeStore) DeleteSnapshot(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snaps, orderID)
	return nil
}

func (f *fakeStore) RecordPayment(ctx context.Context, rec *models.PaymentRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ledger[rec.PaymentID]; ok {
		return false, nil
	}
	copied := *rec
	f.ledger[rec.PaymentID] = &copied
	return true, nil
}

// seedSnapshot stores a snapshot for orderID with the given cart.
func (f *fakeStore) seedSnapshot(orderID string, cart []models.CartLine, amount float64) {
	raw, _ := json.Marshal(cart)
	_ = f.CreateSnapshot(context.Background(), &models.PendingOrder{
		OrderID:   orderID,
		UserUID:   "user-1",
		UserEmail: "user@example.com",
		Cart:      raw,
		Amount:    amount,
	})
}

// seedOrder stores an order header in the given status.
func (f *fakeStore) seedOrder(orderID, status string, amount float64) {
	_, _ = f.InsertOrder(context.Background(), &models.Order{
		OrderID:   orderID,
		UserUID:   "user-1",
		UserEmail: "user@example.com",
		Status:    status,
		Amount:    amount,
		Currency:  models.CurrencyINR,
	})
}

// fakeGateway is a scripted Gateway implementation.
type fakeGateway struct {
	mu            sync.Mutex
	sessionID     string
	sessionErr    error
	orderStatus   string
	statusErr     error
	payment       *RemotePayment
	paymentErr    error
	sessions      []SessionRequest
	statusPolls   int
	paymentsPolls int
}

func (g *fakeGateway) CreateOrderSession(ctx context.Context, req SessionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = append(g.sessions, req)
	if g.sessionErr != nil {
		return "", g.sessionErr
	}
	if g.sessionID == "" {
		return "session_test", nil
	}
	return g.sessionID, nil
}

func (g *fakeGateway) GetOrderStatus(ctx context.Context, orderID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusPolls++
	if g.statusErr != nil {
		return "", g.statusErr
	}
	return g.orderStatus, nil
}

func (g *fakeGateway) GetSuccessfulPayment(ctx context.Context, orderID string) (*RemotePayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paymentsPolls++
	if g.paymentErr != nil {
		return nil, g.paymentErr
	}
	if g.payment == nil {
		return nil, errors.New("no successful payment")
	}
	return g.payment, nil
}
